//go:build unix && !linux

package mmap

// mapPopulate is Linux-only; elsewhere Prefault is ignored.
const mapPopulate = 0

/*
Package qmdb implements a sharded, append-only key-value store that
Merkleizes every version of every key.

We implement:

1. An in-memory indexer: 65536 shards (units), each mapping 80-bit keys to
entry ids through packed leaves inside fixed-size buffers.

2. Twigs: every put appends an immutable entry to the Fresh twig of the
shard's group. Twig roots combine into one global root, and any entry can be
proven against it.

3. Durability: dirty units and twigs are written to Bolt (or LevelDB) by
Flush; changes in between are kept in a per-group write-ahead journal and
replayed on Open.

4. Typed tables over a Schema, sharing the store's keys and root.

# Technical Details

**Keys.**
An application key is hashed with SHA3-256; the first 10 bytes are the fixed
key: shard:16 lookup:56 tag:8. The shard picks the unit, the remaining 64
bits order keys inside it. Leaves keep only the high 48 bits (the truncated
key); collisions are told apart by comparing full keys stored in entries.

**Entries.**
An entry records its id, key, value, sequence number, the fixed key of the
next key in the shard, and the ids of the entries it superseded. Entry ids
are twigID*capacity + slot; twig ids interleave groups (local*groups + group),
so a shard's entries live in group shard % groups.

**Twig lifecycle.**
Fresh (accepting entries) → Full (all slots used, entries written to storage)
→ Inactive (every entry superseded or deleted) → Pruned (entries discarded,
root kept).

**Locking.**
Unit, then group, then the upper tree. Operations on different shards of
different groups run in parallel. Flush locks everything.

## Persisted layout

Buckets:

1. meta: "format" → format record; "g" group:16 → group twig state and journal
checkpoint.
2. units: shard:16 → unit record (counts and the leaf index).
3. buffers: shard:16 buffer:32 → encoded buffer.
4. twigs: twig:64 → entries of a Full or Inactive twig.
5. roots: twig:64 → twig record (state, roots, active bitmap).

Records are msgpack. Integers in keys are big-endian.

**Journal records**: msgpack {op, key, value, seq}, one journal per group in
the wal directory; replay starts after the group's checkpoint.
*/
package qmdb

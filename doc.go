/*
Package objstore implements an object store with B-tree indexing on top of a
record store (Bolt, a memory-mapped page file, or memory).

We implement:

1. ObjectStore, keeping variable-length typed records behind stable addresses.
Records are brought into memory by Acquire, which pins them until Release.

2. Indexes, B+trees of byte-string keys and values whose nodes are records of
the object store, reachable through a named anchor.

3. IndexedStore, a directory of named indexes plus opaque binary objects.

4. TypedIndex, mapping Go keys and values onto an index.

# Technical Details

**Addresses.**
An address is a positive 64-bit integer handed out by the backend. Address 0
is NilAddress and never refers to a record. An address stays valid until the
record is removed; it may be reused afterwards.

**Pinning.**
At most one StoredObject exists per address at a time. Acquiring a pinned
address fails with ErrAlreadyPinned instead of waiting. Release writes the
record back only if its body changed.

**Error taxonomy.**
Index code never sees raw store failures. Everything coming out of the
object store is translated into an *IndexedStoreError whose code is one of
ErrObjectNotAcquired, ErrObjectNotStored, ErrObjectNotReleased or
ErrObjectNotRemoved.

**Index anchors.**
Each index has an anchor record whose address never changes. The anchor
points at the current root node, which moves when the root splits or
collapses. The anchor also records the order and the duplicate policy.

## Binary encoding

**Frame**: codec (byte), xxhash64 of the payload (8 bytes), payload.

**Payload**: kind (uint16), body; compressed with Snappy or LZ4 as the codec
byte says.

**Anchor body**:
1. Name (uvarint length, bytes).
2. Root address (uint64).
3. Order (uvarint).
4. Duplicate policy (byte).
5. Entry count (uvarint).

**Node body**:
1. Flags (byte; 1 = leaf).
2. Number of keys n (uvarint).
3. n keys (uvarint length, bytes).
4. Leaves: n values (uvarint length, bytes), then the next leaf (uint64).
Internal nodes: n+1 child addresses (uint64).

All integers are big-endian.
*/
package objstore

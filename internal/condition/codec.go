package condition

import (
	"bytes"
	"io"

	"witnessd/internal/wire"
)

// Encode serializes the tree preorder: per node
// (key, typeCode, rank, inclusion, maxChildRank, rankingChildKey?, childCount, children...).
func (t *Tree) Encode(w io.Writer) error {
	return encodeNode(w, "", t.root)
}

func encodeNode(w io.Writer, key string, n *Node) error {
	if err := wire.WriteString(w, key); err != nil {
		return err
	}
	if err := wire.WriteByte(w, byte(n.Kind)); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(n.Rank)); err != nil {
		return err
	}
	if err := wire.WriteBool(w, n.Inclusion); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(n.maxChildRank)); err != nil {
		return err
	}
	hasRanking := n.rankingChild != nil
	if err := wire.WriteBool(w, hasRanking); err != nil {
		return err
	}
	if hasRanking {
		if err := wire.WriteString(w, n.rankingChildKey); err != nil {
			return err
		}
	}
	if err := wire.WriteInt32(w, int32(len(n.children))); err != nil {
		return err
	}
	for k, c := range n.children {
		if err := encodeNode(w, k, c); err != nil {
			return err
		}
	}
	return nil
}

// Decode deserializes a tree written by Encode. The resulting tree
// answers Check identically to the tree that produced the stream for
// every key present in it.
func Decode(r io.Reader) (*Tree, error) {
	root, _, err := decodeNode(r)
	if err != nil {
		return nil, err
	}
	root.Kind = KindRoot
	return &Tree{root: root}, nil
}

func decodeNode(r io.Reader) (*Node, string, error) {
	key, err := wire.ReadString(r)
	if err != nil {
		return nil, "", err
	}
	kindByte, err := wire.ReadByte(r)
	if err != nil {
		return nil, "", err
	}
	rank, err := wire.ReadInt32(r)
	if err != nil {
		return nil, "", err
	}
	inclusion, err := wire.ReadBool(r)
	if err != nil {
		return nil, "", err
	}
	maxChildRank, err := wire.ReadInt32(r)
	if err != nil {
		return nil, "", err
	}
	hasRanking, err := wire.ReadBool(r)
	if err != nil {
		return nil, "", err
	}
	var rankingKey string
	if hasRanking {
		rankingKey, err = wire.ReadString(r)
		if err != nil {
			return nil, "", err
		}
	}
	childCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, "", err
	}
	n := &Node{
		Kind:            Kind(kindByte),
		Rank:            int(rank),
		Inclusion:       inclusion,
		maxChildRank:    int(maxChildRank),
		rankingChildKey: rankingKey,
		children:        make(map[string]*Node, childCount),
	}
	for i := int32(0); i < childCount; i++ {
		child, childKey, err := decodeNode(r)
		if err != nil {
			return nil, "", err
		}
		n.children[childKey] = child
		if childKey == rankingKey {
			n.rankingChild = child
		}
	}
	return n, key, nil
}

// EncodeBytes is a convenience wrapper around Encode for callers that
// want an in-memory buffer (e.g. embedding in the EDL suite file).
func (t *Tree) EncodeBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes is the inverse of EncodeBytes.
func DecodeBytes(b []byte) (*Tree, error) {
	return Decode(bytes.NewReader(b))
}

package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// ExportNode is one exportnode: a path and the clients it is exported to.
type ExportNode struct {
	Dir    string
	Groups []string
}

// Export lists the export table grouped by path, in table order
// (MOUNTPROC3_EXPORT).
func (h *Handler) Export() []ExportNode {
	if h.exports == nil {
		return nil
	}
	t := h.exports.Table()
	if t == nil {
		return nil
	}

	var out []ExportNode
	index := make(map[string]int)
	for _, e := range t.Entries {
		i, ok := index[e.Path]
		if !ok {
			i = len(out)
			index[e.Path] = i
			out = append(out, ExportNode{Dir: e.Path})
		}
		out[i].Groups = append(out[i].Groups, e.Client)
	}
	return out
}

// encodeExports writes exports: a linked list of exportnode, each carrying
// a linked list of group names. Nodes that do not fit are dropped whole.
func encodeExports(b *xdr.Buffer, nodes []ExportNode) error {
	for i, n := range nodes {
		size := 4 + xdrString(n.Dir) + 4
		for _, g := range n.Groups {
			size += 4 + xdrString(g)
		}
		if size+4 > b.Avail() {
			logger.Warn("MOUNT EXPORT: reply full, %d of %d exports sent", i, len(nodes))
			break
		}
		if err := writeNode(b, n.Dir, n.Groups); err != nil {
			return err
		}
	}
	return b.Bool(false)
}

func writeNode(b *xdr.Buffer, dir string, groups []string) error {
	if err := b.Bool(true); err != nil {
		return err
	}
	if err := b.Opaque([]byte(dir)); err != nil {
		return err
	}
	for _, g := range groups {
		if len(g) > MaxNameLen {
			g = g[:MaxNameLen]
		}
		if err := b.Bool(true); err != nil {
			return err
		}
		if err := b.Opaque([]byte(g)); err != nil {
			return err
		}
	}
	return b.Bool(false)
}

// encodeMountList writes mountlist: a linked list of hostname and
// directory pairs.
func encodeMountList(b *xdr.Buffer, mounts []MountEntry) error {
	for i, m := range mounts {
		if 4+xdrString(m.Host)+xdrString(m.Dir)+4 > b.Avail() {
			logger.Warn("MOUNT DUMP: reply full, %d of %d mounts sent", i, len(mounts))
			break
		}
		host := m.Host
		if len(host) > MaxNameLen {
			host = host[:MaxNameLen]
		}
		if err := b.Bool(true); err != nil {
			return err
		}
		if err := b.Opaque([]byte(host)); err != nil {
			return err
		}
		if err := b.Opaque([]byte(m.Dir)); err != nil {
			return err
		}
	}
	return b.Bool(false)
}

// xdrString is the encoded size of a string: length word plus padded bytes.
func xdrString(s string) int {
	return 4 + (len(s)+3)&^3
}

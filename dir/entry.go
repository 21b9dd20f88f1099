package dir

import (
	"bytes"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blockfs/common"
)

// Entry is one directory slot. A slot whose Inum is NULLINUM is empty.
type Entry struct {
	Name string      `yaml:"name"`
	Inum common.Inum `yaml:"inum"`
}

func (e Entry) IsEmpty() bool {
	return e.Inum == common.NULLINUM
}

// Encode lays out the entry as a NUL-padded name field followed by the inode
// number.
func (e Entry) Encode() []byte {
	b := make([]byte, common.DIRENTSZ)
	copy(b[:common.MAXNAME], e.Name)
	enc := marshal.NewEnc(common.DIRENTSZ - common.NAMESZ)
	enc.PutInt32(uint32(e.Inum))
	copy(b[common.NAMESZ:], enc.Finish())
	return b
}

func DecodeEntry(b []byte) Entry {
	name := b[:common.NAMESZ]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	dec := marshal.NewDec(b[common.NAMESZ:common.DIRENTSZ])
	return Entry{Name: string(name), Inum: common.Inum(dec.GetInt32())}
}

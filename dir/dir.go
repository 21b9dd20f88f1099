// Package dir stores directories as files of fixed-size entries, using only
// the file API of package fs.
package dir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/fs"
	"github.com/mit-pdos/go-blockfs/util"
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrBadName     = errors.New("invalid name")
	ErrNotDir      = errors.New("not a directory")
	ErrExists      = errors.New("name already exists")
	ErrNotFound    = errors.New("no such entry")
	ErrReserved    = errors.New("inode cannot be linked")
)

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%q: %w", name, ErrBadName)
	}
	if uint64(len(name)) > common.MAXNAME {
		return fmt.Errorf("%d bytes, max %d: %w", len(name), common.MAXNAME, ErrNameTooLong)
	}
	return nil
}

// Create allocates an empty directory. It is not linked anywhere.
func Create(fsys *fs.FileSystem) (common.Inum, error) {
	return fsys.CreateDir()
}

// slot is an entry and its byte offset in the directory.
type slot struct {
	off uint64
	e   Entry
}

// readSlots reads every slot of d, empty ones included.
func readSlots(fsys *fs.FileSystem, d common.Inum) ([]slot, uint64, error) {
	attr, err := fsys.Getattr(d)
	if err != nil {
		return nil, 0, err
	}
	if attr.Kind != common.KindDir {
		return nil, 0, fmt.Errorf("inode %d: %w", d, ErrNotDir)
	}
	buf := make([]byte, attr.Size)
	n, err := fsys.Read(d, buf, 0)
	if err != nil {
		return nil, 0, err
	}
	var slots []slot
	for off := uint64(0); off+common.DIRENTSZ <= n; off += common.DIRENTSZ {
		slots = append(slots, slot{off: off, e: DecodeEntry(buf[off:])})
	}
	return slots, attr.Size, nil
}

func find(slots []slot, name string) (slot, bool) {
	for _, s := range slots {
		if !s.e.IsEmpty() && s.e.Name == name {
			return s, true
		}
	}
	return slot{}, false
}

// Add links inum into d under name. The first empty slot is reused;
// otherwise the entry is appended.
func Add(fsys *fs.FileSystem, d common.Inum, name string, inum common.Inum) error {
	if err := checkName(name); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	if inum == common.NULLINUM {
		return fmt.Errorf("add %q: inode %d: %w", name, inum, ErrReserved)
	}
	fsys.LockInode(d)
	defer fsys.UnlockInode(d)
	slots, size, err := readSlots(fsys, d)
	if err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	if _, ok := find(slots, name); ok {
		return fmt.Errorf("add %q to %d: %w", name, d, ErrExists)
	}
	off := size
	for _, s := range slots {
		if s.e.IsEmpty() {
			off = s.off
			break
		}
	}
	if _, err := fsys.Write(d, Entry{Name: name, Inum: inum}.Encode(), off); err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	util.DPrintf(5, "add: %d/%s -> %d at %d\n", d, name, inum, off)
	return nil
}

// Lookup returns the inode linked under name in d.
func Lookup(fsys *fs.FileSystem, d common.Inum, name string) (common.Inum, error) {
	if err := checkName(name); err != nil {
		return 0, fmt.Errorf("lookup: %w", err)
	}
	slots, _, err := readSlots(fsys, d)
	if err != nil {
		return 0, fmt.Errorf("lookup %q: %w", name, err)
	}
	s, ok := find(slots, name)
	if !ok {
		return 0, fmt.Errorf("lookup %q in %d: %w", name, d, ErrNotFound)
	}
	return s.e.Inum, nil
}

// PathLookup resolves a slash-separated path from the root directory. Empty
// components are skipped, so "/" and "" name the root.
func PathLookup(fsys *fs.FileSystem, path string) (common.Inum, error) {
	inum := common.ROOTINUM
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		next, err := Lookup(fsys, inum, name)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		inum = next
	}
	return inum, nil
}

// Entries lists the non-empty entries of d in slot order.
func Entries(fsys *fs.FileSystem, d common.Inum) ([]Entry, error) {
	slots, _, err := readSlots(fsys, d)
	if err != nil {
		return nil, err
	}
	var es []Entry
	for _, s := range slots {
		if !s.e.IsEmpty() {
			es = append(es, s.e)
		}
	}
	return es, nil
}

// Remove clears the entry for name in d. The directory keeps its size; the
// slot is reused by a later Add. The inode itself is not freed.
func Remove(fsys *fs.FileSystem, d common.Inum, name string) error {
	if err := checkName(name); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	fsys.LockInode(d)
	defer fsys.UnlockInode(d)
	slots, _, err := readSlots(fsys, d)
	if err != nil {
		return fmt.Errorf("remove %q: %w", name, err)
	}
	s, ok := find(slots, name)
	if !ok {
		return fmt.Errorf("remove %q from %d: %w", name, d, ErrNotFound)
	}
	if _, err := fsys.Write(d, Entry{}.Encode(), s.off); err != nil {
		return fmt.Errorf("remove %q: %w", name, err)
	}
	return nil
}

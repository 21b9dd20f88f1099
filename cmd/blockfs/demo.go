package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/dir"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/fs"
)

// runDemo formats dev and walks through files, directories, removal, and a
// remount, printing what it sees to w. It fails on the first unexpected
// result.
func runDemo(dev *disk.Device, w io.Writer) error {
	if err := fs.Format(dev); err != nil {
		return err
	}
	fsys, err := fs.Mount(dev)
	if err != nil {
		return err
	}
	defer func() { fsys.Unmount() }()

	a, err := fsys.Create()
	if err != nil {
		return err
	}
	for _, chunk := range []struct {
		s   string
		off uint64
	}{{"Hello world!", 0}, {" Goodbye!", 12}} {
		if _, err := fsys.Write(a, []byte(chunk.s), chunk.off); err != nil {
			return err
		}
	}
	msg, err := readAll(fsys, a)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "file %d: %q\n", a, msg)

	b, err := fsys.Create()
	if err != nil {
		return err
	}
	big := bytes.Repeat([]byte{0xAB}, 6*int(disk.BlockSize))
	if _, err := fsys.Write(b, big, 0); err != nil {
		return err
	}
	sz, err := fsys.Stat(b)
	if err != nil {
		return err
	}
	buf := make([]byte, 32)
	if _, err := fsys.Read(b, buf, 5*disk.BlockSize); err != nil {
		return err
	}
	if !bytes.Equal(buf, big[:32]) {
		return fmt.Errorf("file %d: indirect block read back %x", b, buf)
	}
	fmt.Fprintf(w, "file %d: %d bytes, indirect block ok\n", b, sz)

	if err := fsys.Remove(b); err != nil {
		return err
	}
	if _, err := fsys.Stat(b); !errors.Is(err, fs.ErrInodeFree) {
		return fmt.Errorf("stat of removed inode %d: %v", b, err)
	}
	c, err := fsys.Create()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "removed %d, created %d\n", b, c)

	d1, err := dir.Create(fsys)
	if err != nil {
		return err
	}
	if err := dir.Add(fsys, common.ROOTINUM, "d1", d1); err != nil {
		return err
	}
	d2, err := dir.Create(fsys)
	if err != nil {
		return err
	}
	if err := dir.Add(fsys, d1, "d2", d2); err != nil {
		return err
	}
	if err := dir.Add(fsys, d2, "f", c); err != nil {
		return err
	}
	if err := dir.Add(fsys, d2, "f", a); !errors.Is(err, dir.ErrExists) {
		return fmt.Errorf("duplicate add: %v", err)
	}
	inum, err := dir.PathLookup(fsys, "/d1/d2/f")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "/d1/d2/f -> %d\n", inum)

	if err := fsys.Unmount(); err != nil {
		return err
	}
	fsys, err = fs.Mount(dev)
	if err != nil {
		return err
	}
	again, err := readAll(fsys, a)
	if err != nil {
		return err
	}
	if again != msg {
		return fmt.Errorf("file %d after remount: %q", a, again)
	}
	fmt.Fprintf(w, "after remount, file %d: %q\n", a, again)

	r, err := fsys.Report()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d free blocks, %d reads, %d writes\n",
		r.FreeBlocks, r.IO.Reads, r.IO.Writes)
	return nil
}

func readAll(fsys *fs.FileSystem, inum common.Inum) (string, error) {
	sz, err := fsys.Stat(inum)
	if err != nil {
		return "", err
	}
	buf := make([]byte, sz)
	n, err := fsys.Read(inum, buf, 0)
	return string(buf[:n]), err
}

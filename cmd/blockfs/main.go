package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-blockfs/dir"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/fs"
	"github.com/mit-pdos/go-blockfs/util"
)

var errInconsistent = errors.New("block bitmap disagrees with inode table")

// config is loaded by the app's Before hook.
var config *Config

func main() {
	app := cli.App{
		Name:  "blockfs",
		Usage: "format and inspect blockfs disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path of the disk image (default $BLOCKFS_IMAGE or blockfs.img)",
			},
			&cli.Uint64Flag{
				Name:    "blocks",
				Aliases: []string{"n"},
				Usage:   "size of a new image in blocks (default $BLOCKFS_BLOCKS or 100)",
			},
			&cli.Uint64Flag{
				Name:  "debug",
				Usage: "debug print level",
			},
		},
		Before: func(ctx *cli.Context) error {
			c, err := LoadConfig()
			if err != nil {
				return err
			}
			if ctx.IsSet("image") {
				c.Image = ctx.String("image")
			}
			if ctx.IsSet("blocks") {
				c.Blocks = ctx.Uint64("blocks")
			}
			if ctx.IsSet("debug") {
				c.Debug = ctx.Uint64("debug")
			}
			if err := c.Validate(); err != nil {
				return err
			}
			util.Debug = c.Debug
			config = c
			return nil
		},
		Commands: []*cli.Command{{
			Name:        "format",
			Aliases:     []string{"mkfs"},
			Description: "create (or overwrite) the image and write an empty volume",
			Action: func(ctx *cli.Context) error {
				dev, err := disk.Open(config.Image, config.Blocks)
				if err != nil {
					return err
				}
				defer dev.Close()
				if err := fs.Format(dev); err != nil {
					return err
				}
				fmt.Printf("formatted %s: %d blocks\n", config.Image, config.Blocks)
				return nil
			},
		}, {
			Name:        "info",
			Description: "print the volume report as YAML",
			Action: withMount(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				r, err := fsys.Report()
				if err != nil {
					return err
				}
				return printYAML(r)
			}),
		}, {
			Name:        "check",
			Aliases:     []string{"fsck"},
			Description: "compare the block bitmap against the inode table",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "repair",
					Usage: "rebuild the bitmap from the inode table if they disagree",
				},
			},
			Action: withMount(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				inc, err := fsys.Check()
				if err != nil {
					return err
				}
				if inc.OK() {
					fmt.Println("ok")
					return nil
				}
				if err := printYAML(inc); err != nil {
					return err
				}
				if !ctx.Bool("repair") {
					return errInconsistent
				}
				if err := fsys.Rebuild(); err != nil {
					return fmt.Errorf("repairing: %w", err)
				}
				fmt.Println("repaired")
				return nil
			}),
		}, {
			Name:        "ls",
			Description: "list a directory",
			ArgsUsage:   "[PATH]",
			Action: withMount(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				path := ctx.Args().First()
				d, err := dir.PathLookup(fsys, path)
				if err != nil {
					return err
				}
				es, err := dir.Entries(fsys, d)
				if err != nil {
					return err
				}
				for _, e := range es {
					attr, err := fsys.Getattr(e.Inum)
					if err != nil {
						return fmt.Errorf("%s: %w", e.Name, err)
					}
					fmt.Printf("%6d %-4s %10d %s\n", e.Inum, attr.Kind, attr.Size, e.Name)
				}
				return nil
			}),
		}, {
			Name:        "demo",
			Description: "format the image and run a scripted file and directory workload",
			Action: func(ctx *cli.Context) error {
				dev, err := disk.Open(config.Image, config.Blocks)
				if err != nil {
					return err
				}
				defer dev.Close()
				return runDemo(dev, os.Stdout)
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withMount opens the existing image at its own size and mounts it for the
// duration of f.
func withMount(f func(*fs.FileSystem, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		st, err := os.Stat(config.Image)
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}
		dev, err := disk.Open(config.Image, uint64(st.Size())/disk.BlockSize)
		if err != nil {
			return err
		}
		defer dev.Close()
		fsys, err := fs.Mount(dev)
		if err != nil {
			return err
		}
		defer fsys.Unmount()
		return f(fsys, ctx)
	}
}

func printYAML(v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling to YAML: %w", err)
	}
	if _, err := fmt.Printf("%s", data); err != nil {
		return fmt.Errorf("writing YAML to stdout: %w", err)
	}
	return nil
}

package command

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/kit/log/level"
	"github.com/urfave/cli/v2"

	"github.com/nkazure/azblobber/blob"
	"github.com/nkazure/azblobber/internal"
	"github.com/nkazure/azblobber/storage/common"
)

func (a *app) commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "containers",
			Usage:  "list the containers of the account",
			Action: a.containers,
		},
		{
			Name:      "ls",
			Usage:     "list blobs of the container",
			ArgsUsage: "[prefix]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "long", Aliases: []string{"l"}, Usage: "show size, content type and modification time"},
			},
			Action: a.list,
		},
		{
			Name:      "get",
			Usage:     "download a blob to a local file, or stdout when no file is given",
			ArgsUsage: "<blob> [file]",
			Action:    a.get,
		},
		{
			Name:      "cat",
			Usage:     "print a blob as text",
			ArgsUsage: "<blob>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "encoding", Usage: "text encoding of the blob", Value: blob.DefaultEncoding},
			},
			Action: a.cat,
		},
		{
			Name:      "put",
			Usage:     "upload a local file",
			ArgsUsage: "<blob> <file>",
			Flags:     writeFlags(),
			Action:    a.put,
		},
		{
			Name:      "write",
			Usage:     "store the given text as a blob",
			ArgsUsage: "<blob> <text>",
			Flags:     writeFlags(),
			Action:    a.write,
		},
		{
			Name:      "rm",
			Usage:     "delete a blob",
			ArgsUsage: "<blob>",
			Action:    a.remove,
		},
		{
			Name:      "exists",
			Usage:     "print whether a blob exists",
			ArgsUsage: "<blob>",
			Action:    a.exists,
		},
		{
			Name:      "stat",
			Usage:     "print the properties of a blob",
			ArgsUsage: "<blob>",
			Action:    a.stat,
		},
		{
			Name:      "mkcontainer",
			Usage:     "create a container unless it exists",
			ArgsUsage: "<container>",
			Action:    a.mkcontainer,
		},
	}
}

func writeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "no-overwrite", Usage: "fail if the blob already exists"},
		&cli.StringFlag{Name: "content-type", Usage: "content type stored with the blob"},
	}
}

func writeOptions(c *cli.Context) []blob.CallOption {
	opts := []blob.CallOption{blob.WithOverwrite(!c.Bool("no-overwrite"))}
	if ct := c.String("content-type"); ct != "" {
		opts = append(opts, blob.WithContentType(ct))
	}

	return opts
}

func (a *app) containers(c *cli.Context) error {
	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	for name, err := range client.ListContainerNames(c.Context) {
		if err != nil {
			return err
		}

		fmt.Fprintln(c.App.Writer, name)
	}

	return nil
}

func (a *app) list(c *cli.Context) error {
	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	prefix := blob.WithPrefix(c.Args().First())

	if !c.Bool("long") {
		for name, err := range client.ListBlobNames(c.Context, prefix) {
			if err != nil {
				return err
			}

			fmt.Fprintln(c.App.Writer, name)
		}

		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for info, err := range client.ListBlobInfo(c.Context, prefix) {
		if err != nil {
			return err
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", size(info.Size), value(info.ContentType), age(info.LastModified), info.Name)
	}

	return tw.Flush()
}

func (a *app) get(c *cli.Context) (err error) {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	client, logger, err := a.client(c)
	if err != nil {
		return err
	}

	data, err := client.Read(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}

	path := c.Args().Get(1)
	if path == "" || path == "-" {
		_, err = c.App.Writer.Write(data)
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return common.NewError(common.ErrIO, "get", fmt.Errorf("create %s, %w", path, err))
	}

	defer internal.CloseWithErrCapturef(&err, f, "close %s", path)

	if _, err := f.Write(data); err != nil {
		return common.NewError(common.ErrIO, "get", fmt.Errorf("write %s, %w", path, err))
	}

	level.Info(logger).Log("msg", "downloaded blob", "name", c.Args().Get(0), "path", path, "size", humanize.Bytes(uint64(len(data))))

	return nil
}

func (a *app) cat(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	text, err := client.ReadText(c.Context, c.Args().Get(0), blob.WithEncoding(c.String("encoding")))
	if err != nil {
		return err
	}

	_, err = io.WriteString(c.App.Writer, text)

	return err
}

func (a *app) put(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	return client.UploadFile(c.Context, c.Args().Get(0), c.Args().Get(1), writeOptions(c)...)
}

func (a *app) write(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	return client.WriteString(c.Context, c.Args().Get(0), c.Args().Get(1), writeOptions(c)...)
}

func (a *app) remove(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	return client.Delete(c.Context, c.Args().Get(0))
}

func (a *app) exists(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	ok, err := client.Exists(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, ok)

	return nil
}

func (a *app) stat(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	info, err := client.Stat(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "name:\t%s\n", info.Name)
	fmt.Fprintf(tw, "container:\t%s\n", info.ContainerName)
	fmt.Fprintf(tw, "size:\t%s\n", size(info.Size))
	fmt.Fprintf(tw, "content type:\t%s\n", value(info.ContentType))
	fmt.Fprintf(tw, "etag:\t%s\n", value(info.ETag))
	fmt.Fprintf(tw, "created:\t%s\n", timestamp(info.CreationTime))
	fmt.Fprintf(tw, "modified:\t%s\n", timestamp(info.LastModified))

	return tw.Flush()
}

func (a *app) mkcontainer(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	client, _, err := a.client(c)
	if err != nil {
		return err
	}

	return client.CreateContainer(c.Context, c.Args().Get(0))
}

func size(n *int64) string {
	if n == nil {
		return "-"
	}

	return humanize.Bytes(uint64(*n))
}

func value(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}

	return *s
}

func age(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return humanize.Time(*t)
}

func timestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.Time(*t))
}

package ordering

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/internal/fs"
)

func keygenCmd(c *cli.Context, l log.Logger) error {
	index, err := getIndex(c)
	if err != nil {
		return err
	}
	if !c.IsSet(outFlag.Name) {
		return fmt.Errorf("missing output folder, see --%s", outFlag.Name)
	}
	folder := c.String(outFlag.Name)

	addr := key.DefaultAddress(c.Int(basePortFlag.Name), index)
	if c.IsSet(addressFlag.Name) {
		addr = c.String(addressFlag.Name)
	}

	exists, err := fs.Exists(key.PrivateKeyFile(folder, index))
	if err != nil {
		return err
	}
	if exists {
		fmt.Fprintf(c.App.Writer, "Keypair of participant %d already present in `%s`.\nRemove it before generating a new one\n", index, folder)
		return nil
	}

	pair := key.NewKeyPair(index, addr)
	if err := key.SaveKeyPair(folder, pair); err != nil {
		return fmt.Errorf("could not save key: %w", err)
	}
	absPath, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("err getting full path: %w", err)
	}
	l.Debugw("key pair generated", "index", index, "address", addr, "folder", absPath)
	fmt.Fprintln(c.App.Writer, "Generated keys at", absPath)

	var buff bytes.Buffer
	buff.WriteString("[[Nodes]]\n")
	if err := toml.NewEncoder(&buff).Encode(pair.Public.TOML()); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "You can copy paste the following snippet to a common group.toml file:")
	fmt.Fprintln(c.App.Writer, buff.String())
	fmt.Fprintln(c.App.Writer, "Or just collect all public key files and use the group command!")
	return nil
}

func groupCmd(c *cli.Context, l log.Logger) error {
	if !c.Args().Present() {
		return errors.New("missing public identity files in arguments")
	}
	files, err := identityFiles(c.Args().Slice())
	if err != nil {
		return err
	}
	group := &key.Group{}
	for _, file := range files {
		id := new(key.Identity)
		if err := key.Load(file, id); err != nil {
			return fmt.Errorf("can't load identity %s: %w", file, err)
		}
		l.Debugw("read identity", "file", file, "index", id.Index)
		group.Nodes = append(group.Nodes, id)
	}
	sort.Slice(group.Nodes, func(i, j int) bool { return group.Nodes[i].Index < group.Nodes[j].Index })
	if err := group.Validate(); err != nil {
		return err
	}
	return groupOut(c, group)
}

// identityFiles expands folder arguments, typically keygen output folders,
// into the public identity files they hold.
func identityFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		inFolder, err := fs.Files(arg)
		if err != nil {
			return nil, err
		}
		for _, f := range inFolder {
			if strings.HasSuffix(f, key.PublicKeySuffix) {
				files = append(files, f)
			}
		}
	}
	return files, nil
}

func groupOut(c *cli.Context, group *key.Group) error {
	if c.IsSet(outFlag.Name) {
		groupPath := c.String(outFlag.Name)
		if err := key.Save(groupPath, group, false); err != nil {
			return fmt.Errorf("can't save group to specified file name: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "Group of %d participants written to %s\n", group.Len(), groupPath)
		return nil
	}
	var buff bytes.Buffer
	if err := toml.NewEncoder(&buff).Encode(group.TOML()); err != nil {
		return fmt.Errorf("can't encode group to TOML: %w", err)
	}
	fmt.Fprintln(c.App.Writer, buff.String())
	return nil
}

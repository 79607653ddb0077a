package key

import (
	"fmt"
	"os"
	"path"

	"github.com/BurntSushi/toml"

	"github.com/drand/ordering/internal/fs"
)

const privateExtension = ".private.toml"

// PublicKeySuffix ends the name of every public identity file.
const PublicKeySuffix = ".public.toml"

// Tomler represents any struct that can be (un)marshalled into/from toml format
type Tomler interface {
	TOML() interface{}
	FromTOML(i interface{}) error
	TOMLValue() interface{}
}

// PrivateKeyFile returns the path of the private key of participant i under folder.
func PrivateKeyFile(folder string, i Index) string {
	return path.Join(folder, i.String()+privateExtension)
}

// PublicKeyFile returns the path of the public identity of participant i under folder.
func PublicKeyFile(folder string, i Index) string {
	return path.Join(folder, i.String()+PublicKeySuffix)
}

// Save writes the TOML form of t to path. Secure files are readable by the
// owner only.
func Save(filePath string, t Tomler, secure bool) error {
	var fd *os.File
	var err error
	if secure {
		fd, err = fs.CreateSecureFile(filePath)
	} else {
		fd, err = os.Create(filePath)
	}
	if err != nil {
		return fmt.Errorf("config: can't save to %s: %w", filePath, err)
	}
	defer fd.Close()
	return toml.NewEncoder(fd).Encode(t.TOML())
}

// Load decodes the TOML file at path into t.
func Load(filePath string, t Tomler) error {
	tomlValue := t.TOMLValue()
	if _, err := toml.DecodeFile(filePath, tomlValue); err != nil {
		return err
	}
	return t.FromTOML(tomlValue)
}

// SaveKeyPair writes the private key and the public identity of p under folder.
func SaveKeyPair(folder string, p *Pair) error {
	if _, err := fs.CreateSecureFolder(folder); err != nil {
		return err
	}
	if err := Save(PrivateKeyFile(folder, p.Public.Index), p, true); err != nil {
		return err
	}
	return Save(PublicKeyFile(folder, p.Public.Index), p.Public, false)
}

// LoadKeyPair reads back a pair written by SaveKeyPair.
func LoadKeyPair(folder string, i Index) (*Pair, error) {
	p := new(Pair)
	if err := Load(PrivateKeyFile(folder, i), p); err != nil {
		return nil, err
	}
	if err := Load(PublicKeyFile(folder, i), p.Public); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadGroup reads a group file.
func LoadGroup(filePath string) (*Group, error) {
	g := new(Group)
	if err := Load(filePath, g); err != nil {
		return nil, err
	}
	return g, nil
}

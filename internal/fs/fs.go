// Package fs holds some utilities for manipulating the file system
package fs

import (
	"fmt"
	"os"
	"path"
)

const defaultDirectoryPermission = 0740

// SecureFilePermission is the permission of files holding participant state.
const SecureFilePermission = 0600

// CreateSecureFolder creates the folder with restricted permissions if it
// doesn't exist yet and returns it. An existing folder is left untouched.
func CreateSecureFolder(folder string) (string, error) {
	exists, err := Exists(folder)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := os.MkdirAll(folder, defaultDirectoryPermission); err != nil {
			return "", fmt.Errorf("creating folder %s: %w", folder, err)
		}
		return folder, nil
	}
	info, err := os.Stat(folder)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s exists and is not a folder", folder)
	}
	return folder, nil
}

// Exists returns whether the given file or directory exists.
func Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// CreateSecureFile creates a file with wr permission for user only and returns
// the file handle. An existing file is truncated.
func CreateSecureFile(file string) (*os.File, error) {
	return os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, SecureFilePermission)
}

// OpenAppendOnly opens the file for appending, creating it with user-only
// permissions if needed. Writes never touch previously written bytes.
func OpenAppendOnly(file string) (*os.File, error) {
	return os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, SecureFilePermission)
}

// Files returns the list of file names included in the given path or error if
// any.
func Files(folderPath string) ([]string, error) {
	fi, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range fi {
		if !f.IsDir() {
			files = append(files, path.Join(folderPath, f.Name()))
		}
	}
	return files, nil
}

package pkg

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unsafe"
)

var numberedFileRegex = regexp.MustCompile(`^[A-Za-z_-]*?(\d+)$`)

// BytesToString converts bytes slice to a string without extra allocation
func BytesToString(buf []byte) string {
	return *(*string)(unsafe.Pointer(&buf))
}

// GenerateRandomBytes returns securely generated random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("random bytes length must be positive")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateRandomString returns a URL-safe, base64 encoded securely generated
// random string of exactly s characters.
func GenerateRandomString(s int) (string, error) {
	b, err := GenerateRandomBytes(s)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b)[:s], nil
}

// PathExists returns whether the given file or directory exists
func PathExists(path string, isDir bool) (bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if isDir && !stat.IsDir() {
		return false, fmt.Errorf("%s is not a directory", path)
	}
	if !isDir && stat.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	return true, nil
}

// EnsureDir creates the directory (and parents) if missing.
func EnsureDir(path string) error {
	exists, err := PathExists(path, true)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}

// NumberedFile is a file whose stem ends with a number, e.g. pose12.jpg.
type NumberedFile struct {
	Number int
	Name   string
	Path   string
}

// ListNumberedFiles lists files in dir with the given extension, whose stem ends in a number,
// ordered by that number (so pose2 comes before pose10).
func ListNumberedFiles(dir, ext string) ([]NumberedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []NumberedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		fileExt := filepath.Ext(name)
		if !strings.EqualFold(fileExt, ext) {
			continue
		}
		m := numberedFileRegex.FindStringSubmatch(name[:len(name)-len(fileExt)])
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, NumberedFile{
			Number: n,
			Name:   name,
			Path:   filepath.Join(dir, name),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Number < files[j].Number
	})

	return files, nil
}

package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vinceanalytics/vault/internal/version"
)

func main() {
	flag.Parse()
	v := load()
	switch flag.Arg(0) {
	case "major":
		v.major, v.minor, v.patch = v.major+1, 0, 0
	case "minor":
		v.minor, v.patch = v.minor+1, 0
	case "patch":
		v.patch++
	default:
		fmt.Fprintln(os.Stderr, "usage: bump major|minor|patch")
		os.Exit(2)
	}
	os.WriteFile("internal/version/VERSION.txt", []byte(v.String()+"\n"), 0600)
}

type Version struct {
	major, minor, patch int
}

func (v *Version) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.major, v.minor, v.patch)
}

func load() *Version {
	m := strings.TrimPrefix(string(bytes.TrimSpace(version.BuildVersion)), "v")
	p := strings.Split(m, ".")
	var v Version
	if len(p) == 3 {
		v.major, _ = strconv.Atoi(p[0])
		v.minor, _ = strconv.Atoi(p[1])
		v.patch, _ = strconv.Atoi(p[2])
	}
	return &v
}

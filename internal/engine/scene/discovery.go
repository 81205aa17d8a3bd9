package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Role selects one of the two scenes kept per map.
type Role int

const (
	// Visibility includes foliage and answers eye line-of-sight queries.
	Visibility Role = iota
	// Ballistic excludes foliage and answers hit-scan queries.
	Ballistic

	roleCount
)

// Roles lists every role in load order.
var Roles = [roleCount]Role{Visibility, Ballistic}

func (r Role) String() string {
	switch r {
	case Visibility:
		return "visibility"
	case Ballistic:
		return "ballistic"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

const (
	extBinary = ".mesh"
	extText   = ".obj"
	extCache  = ".bvhc"
)

var ErrMapNotFound = errors.New("map folder not found")

// DiscoverOptions locates map folders.
type DiscoverOptions struct {
	MapsDir   string
	CacheDir  string            // empty = caches live next to the sources
	MapSource string            // go-getter URL template for missing folders
	Aliases   map[string]string // map id -> folder
}

// Folder resolves a map id to its folder name.
func (o DiscoverOptions) Folder(mapID string) string {
	if f, ok := o.Aliases[mapID]; ok && f != "" {
		return f
	}
	return mapID
}

// MapFiles is the result of discovery for one map.
type MapFiles struct {
	MapID  string
	Folder string
	Dir    string
	Roles  [roleCount]Sources
}

// Sources returns the candidate files for role.
func (f *MapFiles) Sources(r Role) Sources { return f.Roles[r] }

// Discover resolves mapID to a folder, provisioning it from MapSource when it
// is missing, and lists the candidate files of each role. ctx is checked
// between filesystem steps.
func Discover(ctx context.Context, opts DiscoverOptions, mapID string, log *slog.Logger) (*MapFiles, error) {
	folder := opts.Folder(mapID)
	if folder == "" || folder != filepath.Base(folder) {
		return nil, fmt.Errorf("discover %q: invalid folder %q", mapID, folder)
	}
	dir := filepath.Join(opts.MapsDir, folder)
	log = log.With("map", mapID, "folder", folder)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat map folder: %w", err)
		}
		if opts.MapSource == "" {
			return nil, fmt.Errorf("discover %q: %w", mapID, ErrMapNotFound)
		}
		log.Info("provisioning map folder", "source", opts.MapSource)
		if err := Provision(ctx, opts.MapSource, folder, dir); err != nil {
			return nil, err
		}
	}

	cacheDir := dir
	if opts.CacheDir != "" {
		cacheDir = filepath.Join(opts.CacheDir, folder)
	}

	files := &MapFiles{MapID: mapID, Folder: folder, Dir: dir}
	for _, r := range Roles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := r.String()
		src := Sources{
			Name:      folder + "/" + base,
			CachePath: filepath.Join(cacheDir, base+extCache),
		}
		if p := filepath.Join(dir, base+extBinary); exists(p) {
			src.BinaryPath = p
		}
		if p := filepath.Join(dir, base+extText); exists(p) {
			src.TextPath = p
		}
		files.Roles[r] = src
		log.Debug("role sources",
			"role", r,
			"binary", src.BinaryPath,
			"text", src.TextPath,
			"cache", exists(src.CachePath),
		)
	}
	return files, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

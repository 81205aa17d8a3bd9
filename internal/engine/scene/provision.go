package scene

import (
	"context"
	"fmt"
	"os"
	"strings"

	get "github.com/hashicorp/go-getter"
)

// SourceURL expands the "{map}" placeholder of a map source template.
func SourceURL(template, folder string) string {
	return strings.ReplaceAll(template, "{map}", folder)
}

// Provision downloads the map folder described by template into dst. A
// partially written dst is removed on failure.
func Provision(ctx context.Context, template, folder, dst string) error {
	url := SourceURL(template, folder)
	if err := get.GetAny(dst, url, get.WithContext(ctx)); err != nil {
		os.RemoveAll(dst)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("provision %s from %s: %w", folder, url, err)
	}
	return nil
}

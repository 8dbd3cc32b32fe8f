package session

import (
	"fmt"
	"strconv"
	"strings"

	"bazil.org/fuse"
)

// defaultOptions are applied before anything given with -o, so user
// options win.
func defaultOptions() []fuse.MountOption {
	return []fuse.MountOption{
		fuse.FSName("lfuse"),
		fuse.Subtype("lfuse"),
	}
}

// ParseOptions turns a comma separated -o value into mount options.
// Empty items are skipped; unknown ones are an error.
func ParseOptions(spec string) ([]fuse.MountOption, error) {
	opts := defaultOptions()

	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, value, hasValue := strings.Cut(item, "=")
		switch name {
		case "allow_other":
			opts = append(opts, fuse.AllowOther())
		case "default_permissions":
			opts = append(opts, fuse.DefaultPermissions())
		case "ro":
			opts = append(opts, fuse.ReadOnly())
		case "nonempty":
			opts = append(opts, fuse.AllowNonEmptyMount())
		case "async_read":
			opts = append(opts, fuse.AsyncRead())
		case "fsname":
			if !hasValue || value == "" {
				return nil, fmt.Errorf("mount option %q needs a value", name)
			}
			opts = append(opts, fuse.FSName(value))
		case "subtype":
			if !hasValue || value == "" {
				return nil, fmt.Errorf("mount option %q needs a value", name)
			}
			opts = append(opts, fuse.Subtype(value))
		case "max_readahead":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("mount option %q: %w", item, err)
			}
			opts = append(opts, fuse.MaxReadahead(uint32(n)))
		default:
			return nil, fmt.Errorf("unknown mount option %q", item)
		}
	}
	return opts, nil
}

package store

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/joestump/joe-sources/internal/datasource"
)

// ErrInvalidSource is wrapped by every ValidateSource failure.
var ErrInvalidSource = errors.New("invalid source")

// ValidateSource checks in and fills defaults: the kind is normalised and a
// zero port becomes the dialect's default port.
func ValidateSource(in *SourceInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if len(in.Name) > 255 {
		return fmt.Errorf("%w: name is longer than 255 characters", ErrInvalidSource)
	}

	kind, err := datasource.ParseKind(in.Kind)
	if err != nil {
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidSource, in.Kind)
	}
	in.Kind = string(kind)
	d, _ := datasource.DialectFor(kind)

	if in.Port < 0 || in.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSource, in.Port)
	}
	if d.Networked() {
		in.Host = strings.TrimSpace(in.Host)
		if in.Host == "" {
			return fmt.Errorf("%w: host is required for %s", ErrInvalidSource, kind)
		}
		if in.Port == 0 {
			in.Port = d.DefaultPort
		}
	} else {
		in.Host, in.Port = "", 0
		if strings.TrimSpace(in.Database) == "" {
			return fmt.Errorf("%w: database file path is required for %s", ErrInvalidSource, kind)
		}
	}

	if in.Params != "" {
		if _, err := url.ParseQuery(in.Params); err != nil {
			return fmt.Errorf("%w: params: %v", ErrInvalidSource, err)
		}
	}
	return nil
}

package fields

import (
	"errors"
	"fmt"
)

var errNoLookup = errors.New("no database lookup configured")

func errUnknownZone(name string) error { return fmt.Errorf("unknown ocr zone %q", name) }

func errUnknownDatabase(name string) error { return fmt.Errorf("unknown database %q", name) }

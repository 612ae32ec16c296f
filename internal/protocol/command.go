// Package protocol decodes graphics commands arriving on the wire,
// executes their transmit/put/delete/query actions against the image
// store, and builds the escape-framed responses the host emits back on
// the PTY.
package protocol

import (
	"fmt"
	"strconv"

	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// Command is one parsed graphics command. Fields map to single-byte
// wire keys; Has* flags distinguish "absent" from "zero" where the
// protocol cares about the difference.
type Command struct {
	// Raw is the command body without the leading 'G', kept for error
	// messages.
	Raw string

	Payload []byte

	Action     byte // a=, one of t, T, p, q, d
	Medium     byte // t=, one of d, f, t
	DeleteSpec byte // d=, case matters

	Quiet       int // q=, 0/1/2
	Format      store.Format
	Compression store.Compression

	PixWidth, PixHeight int // s=, v=

	SrcX, SrcY          int // x=, y=
	SrcWidth, SrcHeight int // w=, h=

	Cols, Rows int // c=, r=

	ImageID     store.ImageID     // i=
	ImageNumber uint32            // I=
	PlacementID store.PlacementID // p=

	HasImageID     bool
	HasImageNumber bool

	More    int // m=
	HasMore bool

	ExpectedSize int64 // S=

	Virtual         bool // U=
	DoNotMoveCursor bool // C=

	// Errors holds every syntax error hit during parsing, in order.
	// Parsing continues past errors so later fields (image id,
	// placement id) needed for the response are still populated.
	Errors []string

	// Warnings holds messages for keys that are recognized but ignored.
	Warnings []string
}

func (c *Command) errorf(format string, args ...any) {
	c.Errors = append(c.Errors, fmt.Sprintf(format, args...))
}

// ParseCommandBody tokenizes a command body (everything after the 'G'
// sentinel) of the shape KEY=VAL(,KEY=VAL)*(;PAYLOAD)?. A two-state
// scanner alternates between expecting a key and expecting a value;
// ',' returns to key state, ';' switches the rest of the input into the
// payload, and the end of the buffer (or an embedded NUL) terminates.
func ParseCommandBody(body []byte) *Command {
	if n := indexNul(body); n >= 0 {
		body = body[:n]
	}
	cmd := &Command{Raw: string(body)}

	state := byte('k')
	keyStart := 0
	keyEnd := -1
	valStart := -1

	for i := 0; i <= len(body); i++ {
		var ch byte
		if i < len(body) {
			ch = body[i]
		}

		switch state {
		case 'k':
			switch ch {
			case ',', ';', 0:
				if i > keyStart {
					cmd.errorf("EINVAL: key without value: %s", body[keyStart:i])
				}
				if ch == ';' {
					cmd.Payload = body[i+1:]
					return cmd
				}
				keyStart = i + 1
			case '=':
				keyEnd = i
				valStart = i + 1
				state = 'v'
			}
		case 'v':
			switch ch {
			case ',', ';', 0:
				cmd.setKeyValue(body[keyStart:keyEnd], body[valStart:i])
				keyStart = i + 1
				state = 'k'
				if ch == ';' {
					cmd.Payload = body[i+1:]
					return cmd
				}
			}
		}
	}

	return cmd
}

func indexNul(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// isCharValueKey reports whether k's value is a single character rather
// than a decimal integer.
func isCharValueKey(k byte) bool {
	return k == 'a' || k == 't' || k == 'd' || k == 'o'
}

func (c *Command) setKeyValue(key, val []byte) {
	if len(key) != 1 {
		c.errorf("EINVAL: unknown key of length %d: %s", len(key), key)
		return
	}
	k := key[0]

	var num int64
	if isCharValueKey(k) {
		if len(val) != 1 {
			c.errorf("EINVAL: value of '%c' must be a single char: %s", k, val)
			return
		}
	} else {
		n, err := strconv.ParseInt(string(val), 10, 64)
		if err != nil {
			c.errorf("EINVAL: could not parse number value of '%c': %s", k, val)
			return
		}
		num = n
	}

	switch k {
	case 'a':
		c.Action = val[0]
	case 't':
		c.Medium = val[0]
	case 'd':
		c.DeleteSpec = val[0]
	case 'o':
		if val[0] != 'z' {
			c.errorf("EINVAL: compression '%c' is not supported", val[0])
			return
		}
		c.Compression = store.CompressionZlib
	case 'q':
		c.Quiet = int(num)
	case 'f':
		c.Format = store.Format(num)
	case 's':
		c.PixWidth = int(num)
	case 'v':
		c.PixHeight = int(num)
	case 'x':
		c.SrcX = int(num)
	case 'y':
		c.SrcY = int(num)
	case 'w':
		c.SrcWidth = int(num)
	case 'h':
		c.SrcHeight = int(num)
	case 'c':
		c.Cols = int(num)
	case 'r':
		c.Rows = int(num)
	case 'i':
		c.ImageID = store.ImageID(num)
		c.HasImageID = true
	case 'I':
		c.ImageNumber = uint32(num)
		c.HasImageNumber = true
	case 'p':
		c.PlacementID = store.PlacementID(num)
	case 'm':
		c.More = int(num)
		c.HasMore = true
	case 'S':
		c.ExpectedSize = num
	case 'U':
		c.Virtual = num != 0
	case 'C':
		c.DoNotMoveCursor = num != 0
	case 'X', 'Y', 'z':
		c.Warnings = append(c.Warnings, fmt.Sprintf("key '%c' is not supported and was ignored", k))
	default:
		c.errorf("EINVAL: unsupported key: %s", key)
	}
}

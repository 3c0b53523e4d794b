package metadata

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// Fragmentation grades how much of the entry table is held by deleted records.
type Fragmentation int

const (
	FragmentationLow Fragmentation = iota
	FragmentationModerate
	FragmentationHigh
	FragmentationSevere
)

func (f Fragmentation) String() string {
	switch f {
	case FragmentationLow:
		return "Low"
	case FragmentationModerate:
		return "Moderate"
	case FragmentationHigh:
		return "High"
	default:
		return "Severe"
	}
}

func (f Fragmentation) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// FragmentationFor grades free/total: <10% Low, <25% Moderate, <50% High.
func FragmentationFor(free, total uint64) Fragmentation {
	if total == 0 {
		return FragmentationLow
	}
	ratio := float64(free) / float64(total)
	switch {
	case ratio < 0.10:
		return FragmentationLow
	case ratio < 0.25:
		return FragmentationModerate
	case ratio < 0.50:
		return FragmentationHigh
	default:
		return FragmentationSevere
	}
}

var (
	rangeRE     = regexp.MustCompile(`(?m)^\s*Range:\s*(\d+)\s*-\s*(\d+)`)
	entrySizeRE = regexp.MustCompile(`(?m)Size of MFT Entries:\s*(\d+)\s*bytes`)
)

// ParseFsstat reads the metadata address range and entry size from fsstat
// output. total is zero when no range is present.
func ParseFsstat(out []byte) (total uint64, entrySize uint32) {
	if m := rangeRE.FindSubmatch(out); m != nil {
		first, err1 := strconv.ParseUint(string(m[1]), 10, 64)
		last, err2 := strconv.ParseUint(string(m[2]), 10, 64)
		if err1 == nil && err2 == nil && last >= first {
			total = last - first + 1
		}
	}
	if m := entrySizeRE.FindSubmatch(out); m != nil {
		if n, err := strconv.ParseUint(string(m[1]), 10, 32); err == nil {
			entrySize = uint32(n)
		}
	}
	return total, entrySize
}

// CountDeletedEntries counts unique metadata addresses in `fls -d -p` output.
// Lines look like "r/r * 1234-128-1(realloc):\tpath/name"; the address is the
// part before the first '-' of the token ahead of the colon.
func CountDeletedEntries(out []byte) uint64 {
	seen := map[uint64]struct{}{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		addr, ok := parseFlsAddress(scanner.Text())
		if ok {
			seen[addr] = struct{}{}
		}
	}
	return uint64(len(seen))
}

func parseFlsAddress(line string) (uint64, bool) {
	head, _, found := strings.Cut(line, ":")
	if !found {
		return 0, false
	}
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return 0, false
	}
	token := fields[len(fields)-1]
	token = strings.TrimSuffix(token, "(realloc)")
	if i := strings.IndexByte(token, '-'); i >= 0 {
		token = token[:i]
	}
	addr, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, false
	}
	return addr, true
}

// Package catalog loads the detector and domain class taxonomies and resolves
// domain classes to detector output indices.
package catalog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"groundseg/internal/services"
	"groundseg/internal/textutil"
)

const stageName = "catalog"

// Options locates the taxonomy resources.
type Options struct {
	DetectorPath string
	DomainPath   string
	SplitIndex   int
	// Aliases maps domain spellings to detector names.
	Aliases map[string]string
}

// Catalog holds both taxonomies. It is immutable after Load.
type Catalog struct {
	detector      []string
	detectorIndex map[string]int
	domain        []string
	domainIndex   map[string]int
	train         []string
	test          []string
	aliases       map[string]string
}

// Load reads both taxonomy files and splits the domain taxonomy.
func Load(opts Options) (*Catalog, error) {
	detector, err := readLines(opts.DetectorPath)
	if err != nil {
		return nil, err
	}
	domain, err := readFirstFields(opts.DomainPath)
	if err != nil {
		return nil, err
	}
	return New(detector, domain, opts.SplitIndex, opts.Aliases)
}

// New builds a catalog from in-memory name lists.
func New(detector, domain []string, splitIndex int, aliases map[string]string) (*Catalog, error) {
	detectorIndex, err := enumerate("detector", detector)
	if err != nil {
		return nil, err
	}
	domainIndex, err := enumerate("domain", domain)
	if err != nil {
		return nil, err
	}
	train, test, err := Split(domain, splitIndex)
	if err != nil {
		return nil, err
	}
	copied := make(map[string]string, len(aliases))
	for k, v := range aliases {
		copied[k] = v
	}
	return &Catalog{
		detector:      append([]string(nil), detector...),
		detectorIndex: detectorIndex,
		domain:        append([]string(nil), domain...),
		domainIndex:   domainIndex,
		train:         train,
		test:          test,
		aliases:       copied,
	}, nil
}

// Split partitions names positionally: the first at entries train, the rest test.
// Relative order is preserved. A list shorter than at is a configuration error.
func Split(names []string, at int) (train, test []string, err error) {
	if at < 0 || at > len(names) {
		return nil, nil, services.Wrap(services.ErrConfiguration, stageName, "split",
			fmt.Sprintf("split index %d outside taxonomy of %d classes", at, len(names)), nil)
	}
	train = append([]string(nil), names[:at]...)
	test = append([]string(nil), names[at:]...)
	return train, test, nil
}

// DetectorClasses returns the detector taxonomy in index order.
func (c *Catalog) DetectorClasses() []string { return append([]string(nil), c.detector...) }

// DomainClasses returns the domain taxonomy in index order.
func (c *Catalog) DomainClasses() []string { return append([]string(nil), c.domain...) }

// Train returns the training subset of the domain taxonomy.
func (c *Catalog) Train() []string { return append([]string(nil), c.train...) }

// Test returns the held-out subset of the domain taxonomy.
func (c *Catalog) Test() []string { return append([]string(nil), c.test...) }

// DetectorSize is the number of detector classes, i.e. the length of every
// segmentation result.
func (c *Catalog) DetectorSize() int { return len(c.detector) }

// DomainIndex returns the domain taxonomy index of name.
func (c *Catalog) DomainIndex(name string) (int, bool) {
	idx, ok := c.domainIndex[name]
	return idx, ok
}

// DetectorName returns the detector spelling of a domain class after alias lookup.
func (c *Catalog) DetectorName(domainClass string) string {
	if alias, ok := c.aliases[domainClass]; ok {
		return alias
	}
	return domainClass
}

// DetectorIndex resolves a domain class, through aliases, to its detector index.
func (c *Catalog) DetectorIndex(domainClass string) (int, bool) {
	idx, ok := c.detectorIndex[c.DetectorName(domainClass)]
	return idx, ok
}

// Validate checks that every training class resolves to a detector class.
func (c *Catalog) Validate() error {
	var problems []string
	for _, name := range c.train {
		if _, ok := c.DetectorIndex(name); ok {
			continue
		}
		msg := fmt.Sprintf("%q has no detector class", name)
		if best, score := textutil.Closest(name, c.detector); score >= 0.3 {
			msg += fmt.Sprintf(" (closest: %q; add an alias)", best)
		}
		problems = append(problems, msg)
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return services.Wrap(services.ErrConfiguration, stageName, "validate",
		"training classes do not resolve: "+strings.Join(problems, ", "), nil)
}

func enumerate(kind string, names []string) (map[string]int, error) {
	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, services.Wrap(services.ErrValidation, stageName, "enumerate",
				fmt.Sprintf("%s taxonomy has a blank entry at line %d", kind, i+1), nil)
		}
		if prev, ok := index[name]; ok {
			return nil, services.Wrap(services.ErrValidation, stageName, "enumerate",
				fmt.Sprintf("%s taxonomy repeats %q at lines %d and %d", kind, name, prev+1, i+1), nil)
		}
		index[name] = i
	}
	if len(index) == 0 {
		return nil, services.Wrap(services.ErrValidation, stageName, "enumerate",
			kind+" taxonomy is empty", nil)
	}
	return index, nil
}

func openResource(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, stageName, "open", path+" does not exist", err)
		}
		return nil, services.Wrap(services.ErrConfiguration, stageName, "open", path, err)
	}
	return file, nil
}

// readLines returns newline-separated names with trailing blank lines removed.
// Interior blanks are kept so enumerate can reject them with a line number.
func readLines(path string) ([]string, error) {
	file, err := openResource(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "read", path, err)
	}
	return trimTrailingBlank(lines), nil
}

// readFirstFields returns the first comma-separated field of every line.
func readFirstFields(path string) ([]string, error) {
	file, err := openResource(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var names []string
	lastLine := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, stageName, "parse", path, err)
		}
		line, _ := reader.FieldPos(0)
		// encoding/csv skips blank lines; keep their positions so interior
		// gaps are still reported as malformed.
		for lastLine+1 < line {
			names = append(names, "")
			lastLine++
		}
		lastLine = line
		names = append(names, strings.TrimSpace(record[0]))
	}
	return trimTrailingBlank(names), nil
}

func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return lines[:end]
}

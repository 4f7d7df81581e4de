package sources

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Listing columns. They line up with the professional profile aliases.
const (
	ListingUnitCode  = "CNES"
	ListingUnitName  = "Unidade de Saude"
	ListingCPF       = "CPF"
	ListingCNS       = "CNS"
	ListingName      = "Profissional"
	ListingRoleCode  = "CBO"
	ListingRoleTitle = "Especialidade"
)

var (
	unitHeader   = regexp.MustCompile(`^CNES\s*:\s*(\d+)\s*-\s*(.+)$`)
	listingEntry = regexp.MustCompile(`^(\d{11})\s+(\d+)\s+(.+?)\s+(\d{5,6})\s*-\s*(.+)$`)
	entryEnd     = regexp.MustCompile(`(\d{5,6})\s*-\s*(.+)$`)
	entryStart   = regexp.MustCompile(`^\d{11}\s`)
)

var listingFurniture = []string{"Total de Profissionais", "MS / SAS", "DATASUS", "---- PAGE"}

// ListingReader parses text reports that list professionals grouped under unit headers.
// A record wrapped over several lines is joined until its role suffix appears.
type ListingReader struct {
	name string
	r    io.Reader
}

func NewListingReader(name string, r io.Reader) *ListingReader {
	return &ListingReader{name: name, r: r}
}

func (l *ListingReader) Format() string { return FormatListing }

func (l *ListingReader) Read(ctx context.Context) ([]models.RawRecord, error) {
	scanner := bufio.NewScanner(l.r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		out        []models.RawRecord
		unitCode   string
		unitName   string
		pending    string
		pendingAt  int
		lineNumber int
	)

	flush := func() error {
		if pending == "" {
			return nil
		}
		m := listingEntry.FindStringSubmatch(pending)
		if m == nil {
			return ferrors.NewSourceFormatErrorf(l.name, "unrecognized record %q", pending).AtLine(pendingAt)
		}
		if unitCode == "" {
			return ferrors.NewSourceFormatErrorf(l.name, "record before any unit header").AtLine(pendingAt)
		}
		out = append(out, models.RawRecord{
			Index:  len(out) + 1,
			Source: l.name,
			Fields: map[string]string{
				ListingUnitCode:  unitCode,
				ListingUnitName:  unitName,
				ListingCPF:       m[1],
				ListingCNS:       m[2],
				ListingName:      strings.TrimSpace(m[3]),
				ListingRoleCode:  m[4],
				ListingRoleTitle: strings.TrimSpace(m[5]),
			},
		})
		pending = ""
		return nil
	}

	for scanner.Scan() {
		lineNumber++
		if lineNumber%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || isFurniture(line) {
			continue
		}

		if m := unitHeader.FindStringSubmatch(line); m != nil {
			if err := flush(); err != nil {
				return nil, err
			}
			unitCode, unitName = m[1], strings.TrimSpace(m[2])
			continue
		}

		// a new identifier while a record is still open means the open one never completed
		if pending != "" && entryStart.MatchString(line) {
			if err := flush(); err != nil {
				return nil, err
			}
		}

		if pending == "" {
			if !entryStart.MatchString(line) {
				// column titles and other report text between units
				continue
			}
			pending, pendingAt = line, lineNumber
		} else {
			pending += " " + line
		}

		if entryEnd.MatchString(pending) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ferrors.NewSourceFormatError(l.name, "cannot read", errors.Wrap(err, "scan listing"))
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ferrors.NewSourceFormatErrorf(l.name, "no records found")
	}
	return out, nil
}

func isFurniture(line string) bool {
	for _, prefix := range listingFurniture {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

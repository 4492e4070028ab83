package botconfig

import (
	"fmt"
	"math"
)

// Path addresses one tunable field of Config.
type Path int

const (
	DepthByBand Path = iota + 1
	Temperature
	BlunderThreshold
	MistakeRateByBand
	CandidateCount
	EvalNoise
	BookMaxPly
	BookVariety
)

// Kind describes the shape of the value behind a Path.
type Kind int

const (
	KindNumber Kind = iota
	KindInteger
	KindTable
)

var pathNames = map[Path]string{
	DepthByBand:       "search.depthByBand",
	Temperature:       "selection.temperature",
	BlunderThreshold:  "selection.blunderThresholdCp",
	MistakeRateByBand: "selection.mistakeRateByBand",
	CandidateCount:    "search.candidateCount",
	EvalNoise:         "selection.evalNoise",
	BookMaxPly:        "book.maxPly",
	BookVariety:       "book.variety",
}

// Paths returns every address in declaration order.
func Paths() []Path {
	return []Path{DepthByBand, Temperature, BlunderThreshold, MistakeRateByBand, CandidateCount, EvalNoise, BookMaxPly, BookVariety}
}

func (p Path) String() string {
	if name, ok := pathNames[p]; ok {
		return name
	}
	return fmt.Sprintf("path(%d)", int(p))
}

// ParsePath resolves a dot-path such as "selection.temperature".
func ParsePath(s string) (Path, error) {
	for p, name := range pathNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown config path %q", s)
}

func (p Path) MarshalText() ([]byte, error) {
	if _, ok := pathNames[p]; !ok {
		return nil, fmt.Errorf("invalid config path %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Kind reports the value shape stored at p.
func (p Path) Kind() Kind {
	switch p {
	case DepthByBand, MistakeRateByBand:
		return KindTable
	case CandidateCount, BookMaxPly:
		return KindInteger
	}
	return KindNumber
}

// Get reads the value at p.
func (p Path) Get(c Config) Value {
	switch p {
	case DepthByBand:
		return TableValue(c.Search.DepthByBand)
	case Temperature:
		return Number(c.Selection.Temperature)
	case BlunderThreshold:
		return Number(c.Selection.BlunderThresholdCP)
	case MistakeRateByBand:
		return TableValue(c.Selection.MistakeRateByBand)
	case CandidateCount:
		return Number(float64(c.Search.CandidateCount))
	case EvalNoise:
		return Number(c.Selection.EvalNoise)
	case BookMaxPly:
		return Number(float64(c.Book.MaxPly))
	case BookVariety:
		return Number(c.Book.Variety)
	}
	return Value{}
}

// Override returns the partial config that sets only p to v.
func (p Path) Override(v Value) Override {
	var o Override
	p.setIn(&o, v)
	return o
}

// Check verifies that v has the shape p expects.
func (p Path) Check(v Value) error {
	if p.Kind() == KindTable && !v.IsTable() {
		return fmt.Errorf("%s expects a per-band table", p)
	}
	if p.Kind() != KindTable && v.IsTable() {
		return fmt.Errorf("%s expects a number", p)
	}
	return nil
}

// SetIn reports whether o sets p.
func (p Path) SetIn(o Override) bool {
	switch p {
	case DepthByBand:
		return o.Search != nil && o.Search.DepthByBand != nil
	case Temperature:
		return o.Selection != nil && o.Selection.Temperature != nil
	case BlunderThreshold:
		return o.Selection != nil && o.Selection.BlunderThresholdCP != nil
	case MistakeRateByBand:
		return o.Selection != nil && o.Selection.MistakeRateByBand != nil
	case CandidateCount:
		return o.Search != nil && o.Search.CandidateCount != nil
	case EvalNoise:
		return o.Selection != nil && o.Selection.EvalNoise != nil
	case BookMaxPly:
		return o.Book != nil && o.Book.MaxPly != nil
	case BookVariety:
		return o.Book != nil && o.Book.Variety != nil
	}
	return false
}

func (p Path) setIn(o *Override, v Value) {
	search := func() *SearchOverride {
		if o.Search == nil {
			o.Search = &SearchOverride{}
		}
		return o.Search
	}
	selection := func() *SelectionOverride {
		if o.Selection == nil {
			o.Selection = &SelectionOverride{}
		}
		return o.Selection
	}
	book := func() *BookOverride {
		if o.Book == nil {
			o.Book = &BookOverride{}
		}
		return o.Book
	}
	num := v.Number
	integer := int(math.Round(v.Number))
	switch p {
	case DepthByBand:
		t := v.tableOrZero()
		search().DepthByBand = &t
	case Temperature:
		selection().Temperature = &num
	case BlunderThreshold:
		selection().BlunderThresholdCP = &num
	case MistakeRateByBand:
		t := v.tableOrZero()
		selection().MistakeRateByBand = &t
	case CandidateCount:
		search().CandidateCount = &integer
	case EvalNoise:
		selection().EvalNoise = &num
	case BookMaxPly:
		book().MaxPly = &integer
	case BookVariety:
		book().Variety = &num
	}
}

package catalog

import (
	"fmt"
	"strings"
)

// Bin codes. These are the only destinations a result can point to.
const (
	BinPlastica        = "PLASTICA"
	BinCarta           = "CARTA"
	BinVetro           = "VETRO"
	BinUmido           = "UMIDO"
	BinIndifferenziato = "INDIFFERENZIATO"
)

// Bin describes one disposal destination.
type Bin struct {
	Code     string
	Material string
	Color    string
	Tip      string
}

// Bins is the fixed category set, in display order.
var Bins = []Bin{
	{Code: BinPlastica, Material: "Plastica", Color: "#f1c40f", Tip: "Schiacciala bene prima di buttarla!"},
	{Code: BinCarta, Material: "Carta", Color: "#3498db", Tip: "Niente scontrini o carta unta qui!"},
	{Code: BinVetro, Material: "Vetro", Color: "#2ecc71", Tip: "Togli il tappo!"},
	{Code: BinUmido, Material: "Umido", Color: "#8e5a2b", Tip: "Usa un sacchetto compostabile."},
	{Code: BinIndifferenziato, Material: "Indifferenziato", Color: "#7f8c8d", Tip: "Controlla il calendario di raccolta del tuo comune."},
}

// IsBin reports whether code names one of Bins.
func IsBin(code string) bool {
	for _, b := range Bins {
		if b.Code == code {
			return true
		}
	}
	return false
}

// Entry maps one raw model class to the guidance shown to the user.
type Entry struct {
	RawLabel    string
	Bin         string
	DisplayName string
	Color       string
	Hint        string
}

// DefaultEntry is returned for labels the catalog does not know.
var DefaultEntry = Entry{
	RawLabel:    "unknown",
	Bin:         BinIndifferenziato,
	DisplayName: "Sconosciuto",
	Color:       "#95a5a6",
	Hint:        "Non riconosco questo oggetto: nel dubbio controlla l'etichetta.",
}

// builtin is ordered like the model's output vector.
var builtin = []Entry{
	{RawLabel: "cardboard", Bin: BinCarta, DisplayName: "Cartone", Color: "#3498db", Hint: "Appiattisci le scatole prima di buttarle."},
	{RawLabel: "glass", Bin: BinVetro, DisplayName: "Vetro", Color: "#2ecc71", Hint: "Togli il tappo!"},
	{RawLabel: "metal", Bin: BinPlastica, DisplayName: "Metallo", Color: "#f1c40f", Hint: "Sciacqua lattine e barattoli."},
	{RawLabel: "paper", Bin: BinCarta, DisplayName: "Carta", Color: "#3498db", Hint: "Niente scontrini qui!"},
	{RawLabel: "plastic", Bin: BinPlastica, DisplayName: "Plastica", Color: "#f1c40f", Hint: "Schiacciala bene!"},
	{RawLabel: "trash", Bin: BinIndifferenziato, DisplayName: "Indifferenziato", Color: "#7f8c8d", Hint: "Se non è riciclabile va nel secco."},
}

// Catalog is the immutable, ordered label table. Index i corresponds to
// element i of the model's probability vector.
type Catalog struct {
	entries []Entry
	byLabel map[string]int
}

// Default returns the built-in TrashNet catalog.
func Default() *Catalog {
	c, err := New(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

// New validates entries and builds a catalog from them. The slice is copied.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog: no entries")
	}

	c := &Catalog{
		entries: make([]Entry, len(entries)),
		byLabel: make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		label := strings.TrimSpace(e.RawLabel)
		if label == "" {
			return nil, fmt.Errorf("catalog: entry %d has empty raw label", i)
		}
		if _, dup := c.byLabel[label]; dup {
			return nil, fmt.Errorf("catalog: duplicate raw label %q", label)
		}
		if !IsBin(e.Bin) {
			return nil, fmt.Errorf("catalog: entry %q has unknown bin %q", label, e.Bin)
		}
		e.RawLabel = label
		c.entries[i] = e
		c.byLabel[label] = i
	}
	return c, nil
}

// Len is the number of classes, which must match the model output length.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Labels returns the raw labels in model order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.RawLabel
	}
	return out
}

// Entry returns the entry at index i, or DefaultEntry and false.
func (c *Catalog) Entry(i int) (Entry, bool) {
	if i < 0 || i >= len(c.entries) {
		return DefaultEntry, false
	}
	return c.entries[i], true
}

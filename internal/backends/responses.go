package backends

// Token is one word of a concordance line part.
type Token struct {
	Str           string `json:"str"`
	Class         string `json:"class,omitempty"`
	InteractionID string `json:"interactionId,omitempty"`
}

// MetadataItem is a labelled structural attribute value of a line.
type MetadataItem struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Line is one concordance line.
type Line struct {
	Left          []Token        `json:"left"`
	Kwic          []Token        `json:"kwic"`
	Right         []Token        `json:"right"`
	Align         []Line         `json:"align,omitempty"`
	Toknum        int64          `json:"toknum"`
	Metadata      []MetadataItem `json:"metadata,omitempty"`
	InteractionID string         `json:"interactionId,omitempty"`
	IsHighlighted bool           `json:"isHighlighted,omitempty"`
}

// RelabelMetadata replaces attribute names in line metadata with the
// configured labels. Adapters label items by attribute name. Items with no
// configured label or an empty one keep the name. Lines are copied.
func RelabelMetadata(lines []Line, attrs []MetadataAttr) []Line {
	labels := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Label != "" {
			labels[a.Value] = a.Label
		}
	}
	if len(labels) == 0 {
		return lines
	}
	ans := make([]Line, len(lines))
	for i, line := range lines {
		ans[i] = line
		if len(line.Metadata) == 0 {
			continue
		}
		ans[i].Metadata = make([]MetadataItem, len(line.Metadata))
		for j, item := range line.Metadata {
			if label, ok := labels[item.Label]; ok {
				item.Label = label
			}
			ans[i].Metadata[j] = item
		}
	}
	return ans
}

// ConcResponse is the normalized concordance.
type ConcResponse struct {
	Query             string      `json:"query"`
	CorpName          string      `json:"corpName"`
	SubcorpName       string      `json:"subcorpName,omitempty"`
	Lines             []Line      `json:"lines"`
	ConcSize          int         `json:"concsize"`
	ARF               float64     `json:"arf"`
	IPM               float64     `json:"ipm"`
	Messages          [][2]string `json:"messages,omitempty"`
	ConcPersistenceID string      `json:"concPersistenceID"`
}

// CollHeading labels one statistic column.
type CollHeading struct {
	Label string `json:"label"`
	Ident string `json:"ident"`
}

// CollItem is one collocate.
type CollItem struct {
	Str           string    `json:"str"`
	Stats         []float64 `json:"stats"`
	Freq          int       `json:"freq"`
	PFilter       string    `json:"pfilter"`
	NFilter       string    `json:"nfilter"`
	InteractionID string    `json:"interactionId"`
}

// CollApiResponse is the normalized collocation list.
type CollApiResponse struct {
	ConcID       string        `json:"concId"`
	CollHeadings []CollHeading `json:"collHeadings"`
	Data         []CollItem    `json:"data"`
}

// WordSimWord is one similar word.
type WordSimWord struct {
	Word          string  `json:"word"`
	Score         float64 `json:"score"`
	InteractionID string  `json:"interactionId,omitempty"`
}

// WordSimApiResponse is the normalized word similarity list.
type WordSimApiResponse struct {
	Words []WordSimWord `json:"words"`
}

// DocItem is one matching document.
type DocItem struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// DocsResponse is the normalized matching-documents list.
type DocsResponse struct {
	Data []DocItem `json:"data"`
}

// FreqItem is one row of a frequency distribution.
type FreqItem struct {
	Name string  `json:"name"`
	Freq int     `json:"freq"`
	IPM  float64 `json:"ipm"`
	Norm int64   `json:"norm"`
}

// FreqResponse is the normalized frequency distribution.
type FreqResponse struct {
	ConcID   string     `json:"concId"`
	CorpName string     `json:"corpName"`
	Fcrit    string     `json:"fcrit"`
	Data     []FreqItem `json:"data"`
}

// WordForm is one form of a lemma.
type WordForm struct {
	Value         string  `json:"value"`
	Freq          int     `json:"freq"`
	Ratio         float64 `json:"ratio"`
	InteractionID string  `json:"interactionId,omitempty"`
}

// WordFormsResponse is the normalized list of forms.
type WordFormsResponse struct {
	Forms []WordForm `json:"forms"`
}

// SourceDetails describes a corpus or service.
type SourceDetails struct {
	TileID      int      `json:"tileId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Author      string   `json:"author,omitempty"`
	Href        string   `json:"href,omitempty"`
	CorpusName  string   `json:"corpname,omitempty"`
	Size        int64    `json:"size,omitempty"`
	Citation    string   `json:"citation,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

package workshop

// Record is one mod's catalog entry as returned by a single fetch.
type Record struct {
	ID         string
	Name       string
	Tags       []string
	CreatedAt  int64
	UpdatedAt  int64
	ChildCount int
	Children   []string
}

// Result is the merged outcome of a fetch. Order lists resolved ids in the
// order they were requested.
type Result struct {
	Records map[string]Record
	Order   []string
}

// Len returns the number of resolved records.
func (r Result) Len() int { return len(r.Records) }

// detailsResponse mirrors both endpoint variants; they share the field names
// used here.
type detailsResponse struct {
	Response struct {
		Result  int          `json:"result"`
		Details []fileDetail `json:"publishedfiledetails"`
	} `json:"response"`
}

type fileDetail struct {
	PublishedFileID string      `json:"publishedfileid"`
	Result          int         `json:"result"`
	Title           string      `json:"title"`
	Tags            []fileTag   `json:"tags"`
	TimeCreated     int64       `json:"time_created"`
	TimeUpdated     int64       `json:"time_updated"`
	NumChildren     int         `json:"num_children"`
	Children        []fileChild `json:"children"`
}

type fileTag struct {
	Tag string `json:"tag"`
}

type fileChild struct {
	PublishedFileID string `json:"publishedfileid"`
}

func (d fileDetail) record() Record {
	rec := Record{
		ID:         d.PublishedFileID,
		Name:       d.Title,
		CreatedAt:  d.TimeCreated,
		UpdatedAt:  d.TimeUpdated,
		ChildCount: d.NumChildren,
	}
	seen := map[string]bool{}
	for _, t := range d.Tags {
		if t.Tag == "" || seen[t.Tag] {
			continue
		}
		seen[t.Tag] = true
		rec.Tags = append(rec.Tags, t.Tag)
	}
	for _, c := range d.Children {
		if c.PublishedFileID != "" {
			rec.Children = append(rec.Children, c.PublishedFileID)
		}
	}
	return rec
}

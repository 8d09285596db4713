package domain

// Document is a citation reference attached to a chat message or stream
// record. The non-ASCII keys follow the upstream content service's wire
// format and are stored verbatim; a document is immutable once attached.
type Document struct {
	SID    string   `json:"sid"`
	ID     string   `json:"ID"`
	Title  string   `json:"标题"`
	Org    string   `json:"发布机构"`
	Author string   `json:"作者"`
	Date   string   `json:"日期"`
	Types  []string `json:"类型"`
}

package metadata

// AuthorityOrder ranks format variants for metadata: lossless containers
// carry the most complete tags in this library, so they are read first.
var AuthorityOrder = []string{".flac", ".m4a", ".mp3", ".opus"}

// StreamingFormat is preferred as a manifest's primary playback file
const StreamingFormat = ".mp3"

// DownloadFormat pairs an extension with the label shown to listeners
type DownloadFormat struct {
	Ext   string
	Label string
}

// DownloadOrder lists downloadable variants, lossless first
var DownloadOrder = []DownloadFormat{
	{Ext: ".flac", Label: "FLAC"},
	{Ext: ".mp3", Label: "MP3"},
	{Ext: ".m4a", Label: "M4A"},
	{Ext: ".opus", Label: "OPUS"},
}

// Candidate tag keys, first non-empty wins
var (
	TitleKeys   = []string{"title", "TITLE", "album", "ALBUM"}
	ArtistKeys  = []string{"artist", "ARTIST"}
	GenreKeys   = []string{"genre", "GENRE"}
	DateKeys    = []string{"date", "DATE"}
	CommentKeys = []string{"comment", "COMMENT"}
)

// authorityRank returns ext's position in AuthorityOrder, or len when absent
func authorityRank(ext string) int {
	for i, e := range AuthorityOrder {
		if e == ext {
			return i
		}
	}
	return len(AuthorityOrder)
}

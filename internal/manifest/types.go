package manifest

const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
)

type PartInfo struct {
	Index   int   `yaml:"index"`
	Size    int64 `yaml:"size"`
	Payload int64 `yaml:"payload"`
}

type SystemInfo struct {
	Hostname string `yaml:"hostname"`
	OS       string `yaml:"os"`
	Kernel   string `yaml:"kernel"`
}

type Images struct {
	DA  string `yaml:"da"`
	FIP string `yaml:"fip,omitempty"`
	Img string `yaml:"img,omitempty"`
}

// Partition records one image written to one partition.
type Partition struct {
	Name            string     `yaml:"name"`
	Image           string     `yaml:"image"`
	Sparse          bool       `yaml:"sparse"`
	MaxDownloadSize uint32     `yaml:"max_download_size"`
	WireSize        int64      `yaml:"wire_size"`
	Parts           []PartInfo `yaml:"parts"`
	TookMS          int64      `yaml:"took_ms"`
}

// Flash is the record of one flash run.
type Flash struct {
	Datetime   int64       `yaml:"datetime"`
	System     SystemInfo  `yaml:"system"`
	Device     string      `yaml:"device"`
	Endpoint   string      `yaml:"endpoint,omitempty"`
	Images     Images      `yaml:"images"`
	Partitions []Partition `yaml:"partitions"`
	Erased     []string    `yaml:"erased,omitempty"`
	Status     string      `yaml:"status"`
	Error      string      `yaml:"error,omitempty"`
	DurationMS int64       `yaml:"duration_ms"`
}

type Ref struct {
	Datetime int64  `yaml:"datetime"`
	Manifest string `yaml:"manifest"`
	Status   string `yaml:"status"`
}

// Last indexes the most recent flash runs of one device, oldest first.
type Last struct {
	Device  string `yaml:"device"`
	Flashes []*Ref `yaml:"flashes"`
}

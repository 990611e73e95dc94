package table

// Dataset identifies one of the three source tables a job processes.
type Dataset string

const (
	History    Dataset = "history"
	Measures   Dataset = "measures"
	Indicators Dataset = "json"
)

// Datasets lists every dataset in processing order.
var Datasets = []Dataset{History, Measures, Indicators}

func (d Dataset) String() string { return string(d) }

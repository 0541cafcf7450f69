package gcup

type Championship struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Year        int    `json:"year"`
	Description string `json:"description"`
}

type ChampionshipDetail struct {
	Championship
	Stages []StageSummary `json:"stages"`
}

type StageSummary struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Class     string `json:"class"`
	TrackURL  string `json:"trackUrl"`
	DateStart int64  `json:"dateStart"`
	DateEnd   int64  `json:"dateEnd"`
}

type StagePayload struct {
	StageSummary
	ChampionshipID int64          `json:"championshipId"`
	Results        []ResultRecord `json:"results"`
}

type FigurePayload struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Track       string         `json:"track"`
	WithInClass bool           `json:"withInClass"`
	Results     []ResultRecord `json:"results"`
}

type AthletePayload struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Country      string `json:"country"`
	City         string `json:"city"`
	AthleteClass string `json:"athleteClass"`
	ImgURL       string `json:"imgUrl"`
	Number       *int   `json:"number"`
}

// ResultRecord is one athlete's attempt as reported by the results site.
// ResultTimeMS carries milliseconds even though the site names it seconds.
type ResultRecord struct {
	UserID        int64   `json:"userId"`
	UserFirstName string  `json:"userFirstName"`
	UserLastName  string  `json:"userLastName"`
	UserCountry   string  `json:"userCountry"`
	UserCity      string  `json:"userCity"`
	AthleteClass  string  `json:"athleteClass"`
	ImgURL        string  `json:"imgUrl"`
	Number        *int    `json:"number"`
	Motorcycle    string  `json:"motorcycle"`
	Date          int64   `json:"date"`
	Place         *int    `json:"place"`
	Fine          *int    `json:"fine"`
	ResultTimeMS  *int    `json:"resultTimeSeconds"`
	ResultTime    string  `json:"resultTime"`
	Video         *string `json:"video"`
}

// HasTime reports whether the record carries a usable result time.
func (r ResultRecord) HasTime() bool {
	return r.ResultTimeMS != nil && *r.ResultTimeMS > 0
}

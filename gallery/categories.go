package gallery

// Category is one of the fixed award categories an artwork can compete in.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const (
	CategoryClassic     = "campus-classic"
	CategoryModern      = "campus-modern"
	CategoryCreative    = "campus-creative"
	CategoryCalligraphy = "campus-calligraphy"
)

var categories = []Category{
	{ID: CategoryClassic, Name: "学院派传统"},
	{ID: CategoryModern, Name: "现代设计"},
	{ID: CategoryCreative, Name: "创意海报"},
	{ID: CategoryCalligraphy, Name: "书法"},
}

// Categories returns the known categories in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func IsKnownCategory(id string) bool {
	_, ok := CategoryName(id)
	return ok
}

// CategoryName returns the display name for id.
func CategoryName(id string) (string, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c.Name, true
		}
	}
	return "", false
}

package router

import (
	"github.com/agrosense/agrosense/tool/agritools"
	"github.com/agrosense/agrosense/types"
)

// Keyword is one weighted classification cue. Weights accumulate per
// role and the sum is clamped to 1.0, so one strong cue (>= base
// threshold) is enough to activate a role on its own.
type Keyword struct {
	Term   string
	Weight float64
}

// RoleProfile describes one catalog entry: the cues that activate the
// role, the tools the role needs, and its precedence tier. Roles in a
// lower tier run before roles in a higher tier because the later roles
// consume their output (weather before intervention timing, timing
// before compliance); roles in the same tier are independent peers.
type RoleProfile struct {
	Role       types.AgentRole
	Keywords   []Keyword
	Tools      []string
	Precedence int
}

// Catalog is the ordered set of role profiles. Registration order is
// the tie-break for equal confidences, so the catalog is a slice, not
// a map.
type Catalog struct {
	profiles []RoleProfile
	index    map[types.AgentRole]int
}

// NewCatalog builds a catalog from profiles in registration order.
func NewCatalog(profiles ...RoleProfile) *Catalog {
	c := &Catalog{index: make(map[types.AgentRole]int, len(profiles))}
	for _, p := range profiles {
		if _, dup := c.index[p.Role]; dup {
			continue
		}
		c.index[p.Role] = len(c.profiles)
		c.profiles = append(c.profiles, p)
	}
	return c
}

// Profiles returns the profiles in registration order.
func (c *Catalog) Profiles() []RoleProfile { return c.profiles }

// Profile returns the profile for a role.
func (c *Catalog) Profile(role types.AgentRole) (RoleProfile, bool) {
	i, ok := c.index[role]
	if !ok {
		return RoleProfile{}, false
	}
	return c.profiles[i], true
}

// Order returns the registration index of a role, used as the stable
// tie-break in routing decisions.
func (c *Catalog) Order(role types.AgentRole) int {
	if i, ok := c.index[role]; ok {
		return i
	}
	return len(c.profiles)
}

// DefaultCatalog returns the built-in role catalog. Keyword lists mix
// French and English because user queries arrive in both.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		RoleProfile{
			Role:       types.RoleWeather,
			Precedence: 0,
			Tools:      []string{agritools.WeatherName},
			Keywords: []Keyword{
				{Term: "météo", Weight: 0.6}, {Term: "meteo", Weight: 0.6},
				{Term: "temps fait-il", Weight: 0.6}, {Term: "weather", Weight: 0.6},
				{Term: "pluie", Weight: 0.5}, {Term: "rain", Weight: 0.5},
				{Term: "gel", Weight: 0.5}, {Term: "frost", Weight: 0.5},
				{Term: "vent", Weight: 0.4}, {Term: "wind", Weight: 0.4},
				{Term: "température", Weight: 0.4}, {Term: "prévision", Weight: 0.5},
				{Term: "irrigation", Weight: 0.3}, {Term: "sécheresse", Weight: 0.4},
			},
		},
		RoleProfile{
			Role:       types.RoleCropHealth,
			Precedence: 1,
			Tools:      []string{agritools.EppoName, agritools.WeatherName},
			Keywords: []Keyword{
				{Term: "maladie", Weight: 0.6}, {Term: "disease", Weight: 0.6},
				{Term: "mildiou", Weight: 0.7}, {Term: "oïdium", Weight: 0.7},
				{Term: "septoriose", Weight: 0.7}, {Term: "rouille", Weight: 0.6},
				{Term: "ravageur", Weight: 0.6}, {Term: "puceron", Weight: 0.7},
				{Term: "pest", Weight: 0.6}, {Term: "fongicide", Weight: 0.5},
				{Term: "traitement", Weight: 0.5}, {Term: "treatment", Weight: 0.5},
				{Term: "symptôme", Weight: 0.5}, {Term: "pulvérisation", Weight: 0.5},
			},
		},
		RoleProfile{
			Role:       types.RoleRegulatory,
			Precedence: 2,
			Tools:      []string{agritools.EphyName},
			Keywords: []Keyword{
				{Term: "amm", Weight: 0.7}, {Term: "homologu", Weight: 0.7},
				{Term: "autorisé", Weight: 0.6}, {Term: "authorized", Weight: 0.6},
				{Term: "réglementation", Weight: 0.6}, {Term: "regulation", Weight: 0.6},
				{Term: "dose maximale", Weight: 0.6}, {Term: "znt", Weight: 0.7},
				{Term: "délai avant récolte", Weight: 0.7}, {Term: "dar", Weight: 0.5},
				{Term: "conformité", Weight: 0.6}, {Term: "compliance", Weight: 0.6},
				{Term: "produit phyto", Weight: 0.6}, {Term: "e-phy", Weight: 0.7},
			},
		},
		RoleProfile{
			Role:       types.RolePlanning,
			Precedence: 1,
			Tools:      []string{agritools.WeatherName, agritools.FarmDataName},
			Keywords: []Keyword{
				{Term: "planifier", Weight: 0.6}, {Term: "planning", Weight: 0.6},
				{Term: "calendrier", Weight: 0.6}, {Term: "semis", Weight: 0.6},
				{Term: "récolte", Weight: 0.5}, {Term: "harvest", Weight: 0.5},
				{Term: "rotation", Weight: 0.6}, {Term: "assolement", Weight: 0.7},
				{Term: "quand", Weight: 0.3}, {Term: "when should", Weight: 0.3},
				{Term: "itinéraire technique", Weight: 0.7},
			},
		},
		RoleProfile{
			Role:       types.RoleSustainability,
			Precedence: 1,
			Tools:      []string{agritools.FarmDataName, agritools.SearchName},
			Keywords: []Keyword{
				{Term: "bio", Weight: 0.4}, {Term: "organic", Weight: 0.5},
				{Term: "carbone", Weight: 0.6}, {Term: "carbon", Weight: 0.6},
				{Term: "hve", Weight: 0.7}, {Term: "certification", Weight: 0.5},
				{Term: "biodiversité", Weight: 0.6}, {Term: "couvert végétal", Weight: 0.6},
				{Term: "durable", Weight: 0.5}, {Term: "sustainable", Weight: 0.5},
				{Term: "agroécologie", Weight: 0.7},
			},
		},
		RoleProfile{
			Role:       types.RoleFarmData,
			Precedence: 0,
			Tools:      []string{agritools.FarmDataName},
			Keywords: []Keyword{
				{Term: "mes parcelles", Weight: 0.7}, {Term: "ma parcelle", Weight: 0.7},
				{Term: "mes interventions", Weight: 0.7}, {Term: "mon exploitation", Weight: 0.7},
				{Term: "stock", Weight: 0.5}, {Term: "registre", Weight: 0.6},
				{Term: "cahier de culture", Weight: 0.7}, {Term: "my farm", Weight: 0.6},
				{Term: "my fields", Weight: 0.6},
			},
		},
		RoleProfile{
			Role:       types.RoleSearch,
			Precedence: 0,
			Tools:      []string{agritools.SearchName},
			Keywords: []Keyword{
				{Term: "actualité", Weight: 0.6}, {Term: "news", Weight: 0.6},
				{Term: "prix", Weight: 0.5}, {Term: "price", Weight: 0.5},
				{Term: "cours du", Weight: 0.6}, {Term: "marché", Weight: 0.5},
				{Term: "cherche", Weight: 0.3}, {Term: "search", Weight: 0.3},
			},
		},
		RoleProfile{
			Role:       types.RoleGeneral,
			Precedence: 2,
			Tools:      nil,
			// no keywords: general is only reached through fallback
		},
	)
}

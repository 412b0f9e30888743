package worldstate

import (
	"encoding/json"
	"fmt"
	"io"
)

// Snapshot is one platform's full world state. The zero Timestamp marks a
// payload the pipeline must treat as a no-op.
type Snapshot struct {
	Timestamp Instant `json:"timestamp"`

	Alerts             []Alert             `json:"alerts"`
	Arbitration        *Arbitration        `json:"arbitration,omitempty"`
	CetusCycle         *CetusCycle         `json:"cetusCycle,omitempty"`
	ConclaveChallenges []ConclaveChallenge `json:"conclaveChallenges"`
	DailyDeals         []DailyDeal         `json:"dailyDeals"`
	EarthCycle         *EarthCycle         `json:"earthCycle,omitempty"`
	Events             []WorldEvent        `json:"events"`
	Fissures           []Fissure           `json:"fissures"`
	FlashSales         []FlashSale         `json:"flashSales"`
	Invasions          []Invasion          `json:"invasions"`
	News               []NewsItem          `json:"news"`
	Nightwave          *Nightwave          `json:"nightwave,omitempty"`
	PersistentEnemies  []PersistentEnemy   `json:"persistentEnemies"`
	Sortie             *Sortie             `json:"sortie,omitempty"`
	SyndicateMissions  []SyndicateMission  `json:"syndicateMissions"`
	Twitter            []TweetThread       `json:"twitter,omitempty"`
	VallisCycle        *VallisCycle        `json:"vallisCycle,omitempty"`
	VoidTrader         *VoidTrader         `json:"voidTrader,omitempty"`
}

type Reward struct {
	AsString     string        `json:"asString,omitempty"`
	ItemString   string        `json:"itemString,omitempty"`
	Credits      int           `json:"credits,omitempty"`
	CountedItems []CountedItem `json:"countedItems,omitempty"`
}

type CountedItem struct {
	Count int    `json:"count"`
	Type  string `json:"type"`
}

type Mission struct {
	Node          string `json:"node"`
	Type          string `json:"type"`
	Faction       string `json:"faction"`
	MinEnemyLevel int    `json:"minEnemyLevel"`
	MaxEnemyLevel int    `json:"maxEnemyLevel"`
	Reward        Reward `json:"reward"`
}

type Alert struct {
	ID          string   `json:"id"`
	Activation  Instant  `json:"activation"`
	Expiry      Instant  `json:"expiry"`
	Expired     bool     `json:"expired"`
	Mission     Mission  `json:"mission"`
	RewardTypes []string `json:"rewardTypes"`
}

type Arbitration struct {
	Activation Instant `json:"activation"`
	Expiry     Instant `json:"expiry"`
	Expired    bool    `json:"expired"`
	Node       string  `json:"node"`
	Enemy      string  `json:"enemy"`
	Type       string  `json:"type"`
}

type CetusCycle struct {
	ID         string  `json:"id"`
	Activation Instant `json:"activation"`
	Expiry     Instant `json:"expiry"`
	Expired    bool    `json:"expired"`
	IsDay      bool    `json:"isDay"`
}

type EarthCycle struct {
	ID         string  `json:"id"`
	Activation Instant `json:"activation"`
	Expiry     Instant `json:"expiry"`
	Expired    bool    `json:"expired"`
	IsDay      bool    `json:"isDay"`
}

type VallisCycle struct {
	ID         string  `json:"id"`
	Activation Instant `json:"activation"`
	Expiry     Instant `json:"expiry"`
	Expired    bool    `json:"expired"`
	IsWarm     bool    `json:"isWarm"`
}

type ConclaveChallenge struct {
	ID            string  `json:"id"`
	Activation    Instant `json:"activation"`
	Expiry        Instant `json:"expiry"`
	Expired       bool    `json:"expired"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Standing      int     `json:"standing"`
	Amount        int     `json:"amount"`
	Mode          string  `json:"mode"`
	Category      string  `json:"category"`
	RootChallenge bool    `json:"rootChallenge"`
}

type DailyDeal struct {
	ID            string  `json:"id"`
	Item          string  `json:"item"`
	Activation    Instant `json:"activation"`
	Expiry        Instant `json:"expiry"`
	OriginalPrice int     `json:"originalPrice"`
	SalePrice     int     `json:"salePrice"`
	Total         int     `json:"total"`
	Sold          int     `json:"sold"`
}

type WorldEvent struct {
	ID          string   `json:"id"`
	Activation  Instant  `json:"activation"`
	Expiry      Instant  `json:"expiry"`
	Expired     bool     `json:"expired"`
	Description string   `json:"description"`
	Tooltip     string   `json:"tooltip"`
	Node        string   `json:"node"`
	Rewards     []Reward `json:"rewards"`
}

type Fissure struct {
	ID          string  `json:"id"`
	Activation  Instant `json:"activation"`
	Expiry      Instant `json:"expiry"`
	Expired     bool    `json:"expired"`
	Node        string  `json:"node"`
	MissionType string  `json:"missionType"`
	Enemy       string  `json:"enemy"`
	Tier        string  `json:"tier"`
	TierNum     int     `json:"tierNum"`
}

type FlashSale struct {
	ID         string  `json:"id"`
	Item       string  `json:"item"`
	Activation Instant `json:"activation"`
	Expiry     Instant `json:"expiry"`
	Expired    bool    `json:"expired"`
	Discount   int     `json:"discount"`
	Premium    int     `json:"premiumOverride"`
	Regular    int     `json:"regularOverride"`
	IsFeatured bool    `json:"isFeatured"`
	IsPopular  bool    `json:"isPopular"`
}

type Invasion struct {
	ID               string   `json:"id"`
	Activation       Instant  `json:"activation"`
	Node             string   `json:"node"`
	Desc             string   `json:"desc"`
	AttackingFaction string   `json:"attackingFaction"`
	DefendingFaction string   `json:"defendingFaction"`
	AttackerReward   Reward   `json:"attackerReward"`
	DefenderReward   Reward   `json:"defenderReward"`
	Completion       float64  `json:"completion"`
	Completed        bool     `json:"completed"`
	RewardTypes      []string `json:"rewardTypes"`
}

type NewsItem struct {
	ID          string  `json:"id"`
	Message     string  `json:"message"`
	Link        string  `json:"link"`
	ImageLink   string  `json:"imageLink"`
	Date        Instant `json:"date"`
	Activation  Instant `json:"activation"`
	PrimeAccess bool    `json:"primeAccess"`
	Update      bool    `json:"update"`
	Stream      bool    `json:"stream"`
}

type Nightwave struct {
	ID               string               `json:"id"`
	Activation       Instant              `json:"activation"`
	Expiry           Instant              `json:"expiry"`
	Season           int                  `json:"season"`
	Phase            int                  `json:"phase"`
	Tag              string               `json:"tag"`
	ActiveChallenges []NightwaveChallenge `json:"activeChallenges"`
}

type NightwaveChallenge struct {
	ID         string  `json:"id"`
	Activation Instant `json:"activation"`
	Expiry     Instant `json:"expiry"`
	Active     bool    `json:"active"`
	IsDaily    bool    `json:"isDaily"`
	IsElite    bool    `json:"isElite"`
	Title      string  `json:"title"`
	Desc       string  `json:"desc"`
	Reputation int     `json:"reputation"`
}

type PersistentEnemy struct {
	ID               string  `json:"id"`
	AgentType        string  `json:"agentType"`
	LocationTag      string  `json:"locationTag"`
	Rank             int     `json:"rank"`
	HealthPercent    float64 `json:"healthPercent"`
	LastDiscoveredAt Instant `json:"lastDiscoveredAt"`
	IsDiscovered     bool    `json:"isDiscovered"`
}

type Sortie struct {
	ID         string          `json:"id"`
	Activation Instant         `json:"activation"`
	Expiry     Instant         `json:"expiry"`
	Expired    bool            `json:"expired"`
	Boss       string          `json:"boss"`
	Faction    string          `json:"faction"`
	Variants   []SortieVariant `json:"variants"`
}

type SortieVariant struct {
	MissionType string `json:"missionType"`
	Modifier    string `json:"modifier"`
	Node        string `json:"node"`
}

type SyndicateMission struct {
	ID         string         `json:"id"`
	Activation Instant        `json:"activation"`
	Expiry     Instant        `json:"expiry"`
	Syndicate  string         `json:"syndicate"`
	Nodes      []string       `json:"nodes"`
	Jobs       []SyndicateJob `json:"jobs,omitempty"`
}

type SyndicateJob struct {
	Type           string   `json:"type"`
	EnemyLevels    []int    `json:"enemyLevels"`
	StandingStages []int    `json:"standingStages"`
	RewardPool     []string `json:"rewardPool"`
}

type TweetThread struct {
	ID     string  `json:"id"`
	Tweets []Tweet `json:"tweets"`
}

type Tweet struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	URL       string  `json:"url"`
	CreatedAt Instant `json:"createdAt"`
	Author    struct {
		Name   string `json:"name"`
		Handle string `json:"handle"`
	} `json:"author"`
}

type VoidTrader struct {
	ID         string       `json:"id"`
	Activation Instant      `json:"activation"`
	Expiry     Instant      `json:"expiry"`
	Active     bool         `json:"active"`
	Character  string       `json:"character"`
	Location   string       `json:"location"`
	Inventory  []TraderItem `json:"inventory"`
}

type TraderItem struct {
	Item    string `json:"item"`
	Ducats  int    `json:"ducats"`
	Credits int    `json:"credits"`
}

// Decode reads one snapshot. Unknown fields are ignored; the feed grows.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

func DecodeBytes(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

package protocol

import (
	"fmt"
	"time"
)

// GET /rounds/{game}
type RoundsResponse struct {
	GameName string  `json:"gameName"`
	Now      string  `json:"now"`
	Rounds   []Round `json:"rounds"`
}

func (r RoundsResponse) NowTime() (time.Time, error) { return ParseTime(r.Now) }

type Round struct {
	Duration int    `json:"duration"`
	EndAt    string `json:"endAt"`
	Name     string `json:"name"`
	Repeat   int    `json:"repeat"`
	StartAt  string `json:"startAt"`
	Status   string `json:"status"`
}

// Start returns the scheduled start, or the zero time when the field is malformed.
func (r Round) Start() time.Time {
	t, _ := ParseTime(r.StartAt)
	return t
}

func (r Round) End() time.Time {
	t, _ := ParseTime(r.EndAt)
	return t
}

func (r Round) String() string {
	return fmt.Sprintf("round(name=%q status=%s start=%s end=%s duration=%d repeat=%d)",
		r.Name, r.Status, r.Start().Format(time.TimeOnly), r.End().Format(time.TimeOnly), r.Duration, r.Repeat)
}

// PUT /play/{game}/participate
type JoinResponse struct {
	StartsInSec int `json:"startsInSec"`
}

// GET /play/{game}/world
type WorldResponse struct {
	RealmName string `json:"realmName"`
	Zpots     []Zpot `json:"zpots"`
}

type Zpot struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Type string `json:"type"`
}

// GET /play/{game}/units
type UnitsResponse struct {
	Base         []BaseBlock  `json:"base"`
	EnemyBlocks  []EnemyBlock `json:"enemyBlocks"`
	Zombies      []Zombie     `json:"zombies"`
	Player       Player       `json:"player"`
	RealmName    string       `json:"realmName"`
	Turn         int          `json:"turn"`
	TurnEndsInMs int          `json:"turnEndsInMs"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type BaseBlock struct {
	ID         string `json:"id"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Attack     int    `json:"attack"`
	Health     int    `json:"health"`
	IsHead     bool   `json:"isHead"`
	Range      int    `json:"range"`
	LastAttack *Point `json:"lastAttack,omitempty"`
}

type EnemyBlock struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Attack int  `json:"attack"`
	Health int  `json:"health"`
	IsHead bool `json:"isHead"`
}

type Zombie struct {
	ID        string `json:"id"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Attack    int    `json:"attack"`
	Health    int    `json:"health"`
	Speed     int    `json:"speed"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	WaitTurns int    `json:"waitTurns"`
}

type Player struct {
	Gold            int    `json:"gold"`
	Points          int    `json:"points"`
	ZombieKills     int    `json:"zombieKills"`
	EnemyBlockKills int    `json:"enemyBlockKills"`
	Name            string `json:"name"`
	GameEndedAt     string `json:"gameEndedAt,omitempty"`
}

// POST /play/{game}/command
type Command struct {
	Attack   []AttackOrder `json:"attack"`
	Build    []Point       `json:"build"`
	MoveBase *Point        `json:"moveBase,omitempty"`
}

type AttackOrder struct {
	BlockID string `json:"blockId"`
	Target  Point  `json:"target"`
}

type CommandResponse struct {
	AcceptedCommands AcceptedCommands `json:"acceptedCommands"`
	Errors           []string         `json:"errors"`
}

type AcceptedCommands struct {
	Attack   []AttackOrder `json:"attack"`
	Build    []Point       `json:"build"`
	MoveBase *Point        `json:"moveBase,omitempty"`
}

package health

import "time"

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Rooms     int       `json:"rooms"`
	Members   int       `json:"members"`
}

package models

// Instructor is a member of the teaching team shown on the about page.
type Instructor struct {
	ID          FlexibleID `json:"id"`
	Name        string     `json:"name"`
	Title       string     `json:"role"`
	Bio         string     `json:"bio"`
	Experience  string     `json:"experience,omitempty"`
	Specialties []string   `json:"specialties,omitempty"`
	Image       Image      `json:"image"`
}

// Impact is one headline statistic ("1200+ students trained").
type Impact struct {
	ID          FlexibleID `json:"id"`
	Title       string     `json:"title"`
	Value       string     `json:"value"`
	Description string     `json:"description,omitempty"`
}

// Testimonial is a student feedback entry.
type Testimonial struct {
	ID      FlexibleID `json:"id"`
	Name    string     `json:"name"`
	Role    string     `json:"role,omitempty"`
	Message string     `json:"message"`
	Rating  int        `json:"rating"`
	Image   Image      `json:"image"`
}

// OfficeTiming is the opening window for one weekday.
type OfficeTiming struct {
	Day    string `json:"day"`
	Open   string `json:"open_time"`
	Close  string `json:"close_time"`
	Closed bool   `json:"is_closed"`
}

// EventPricing is a price card for venue rental and private events.
type EventPricing struct {
	ID          FlexibleID `json:"id"`
	Label       string     `json:"label"`
	Category    string     `json:"category"`
	Price       Price      `json:"price"`
	Unit        string     `json:"unit,omitempty"`
	Description string     `json:"description,omitempty"`
}

package devbackend

import "encoding/json"

// Feed paths served from the content table.
const (
	FeedCourses      = "/api/courses"
	FeedInstructors  = "/api/instructors"
	FeedImpacts      = "/api/impacts"
	FeedFeedback     = "/api/Feedback"
	FeedOfficeTiming = "/api/office-timing"
	FeedEventPricing = "/api/admin/event-pricing"
)

// defaultFeeds mixes the encodings the production backend has been seen to
// send: wrapped and bare lists, numeric and string ids, string prices.
func defaultFeeds() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		FeedCourses: json.RawMessage(`{"data": [
			{"_id": 101, "title": "Diploma in Floral Design", "description": "Twelve weeks of professional floristry.",
			 "price": "₹45,000", "duration": "12 weeks", "capacity": 20, "enrolled": 20,
			 "category": "diploma", "features": "[\"Flower care\",\"Colour theory\",\"Bridal work\"]"},
			{"id": "w-7", "title": "Ikebana Basics", "description": "An introduction to Japanese flower arrangement.",
			 "price": 2500, "duration": 3, "capacity": 10, "enrolled": 2,
			 "category": "Workshop", "features": "Kenzan use, Line and mass, Seasonal material"}
		]}`),
		FeedInstructors: json.RawMessage(`[
			{"id": 1, "name": "Meera Iyer", "role": "Lead Instructor", "bio": "Fifteen years of event floristry.", "specialties": ["Bridal", "Installations"]}
		]`),
		FeedImpacts: json.RawMessage(`{"impacts": [
			{"id": 1, "title": "Students trained", "value": "1200+"},
			{"id": 2, "title": "Events styled", "value": "300+"}
		]}`),
		FeedFeedback: json.RawMessage(`[
			{"id": "f1", "name": "Kavya", "message": "The diploma changed my career.", "rating": 5}
		]`),
		FeedOfficeTiming: json.RawMessage(`[
			{"day": "Monday", "open_time": "10:00", "close_time": "18:00", "is_closed": false},
			{"day": "Sunday", "open_time": "", "close_time": "", "is_closed": true}
		]`),
		FeedEventPricing: json.RawMessage(`[
			{"id": 1, "label": "Studio rental, half day", "category": "Venue", "price": 15000, "unit": "4 hours"}
		]`),
	}
}

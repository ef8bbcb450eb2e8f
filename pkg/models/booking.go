package models

// EventCategory is the kind of slot being booked.
type EventCategory string

const (
	EventCourse   EventCategory = "Course"
	EventWorkshop EventCategory = "Workshop"
	EventVenue    EventCategory = "Venue"
)

// PaymentChoice records how the attendee wants to pay.
type PaymentChoice string

const (
	PayUnset PaymentChoice = ""
	PayNow   PaymentChoice = "now"
	PayLater PaymentChoice = "later"
)

// BookingStatus is the position of a booking in the modal flow.
type BookingStatus string

const (
	StatusCollectingDetails     BookingStatus = "collectingDetails"
	StatusAwaitingPaymentChoice BookingStatus = "awaitingPaymentChoice"
	StatusSubmitting            BookingStatus = "submitting"
	StatusSucceeded             BookingStatus = "succeeded"
	StatusFailed                BookingStatus = "failed"
)

// Attendee holds the step one form fields. Address fields are optional.
type Attendee struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,simple_email"`
	Phone     string `json:"phone" validate:"required,in_mobile"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Pincode   string `json:"pincode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// FullName joins first and last name.
func (a Attendee) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// EventSummary identifies the course, workshop or venue slot being booked.
type EventSummary struct {
	ID       string        `json:"id,omitempty"`
	Title    string        `json:"title"`
	Date     string        `json:"date"`
	Time     string        `json:"time,omitempty"`
	Price    Price         `json:"price"`
	Category EventCategory `json:"category"`
}

// BookingRequest is one attendee's attempt to reserve a slot.
// It lives only as long as the booking modal that owns it.
type BookingRequest struct {
	Attendee      Attendee
	Event         EventSummary
	PaymentChoice PaymentChoice
	Status        BookingStatus
	EnrollmentID  string
}

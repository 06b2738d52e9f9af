package contact

import "github.com/aifocusdev/focos-ia-sub000/internal/store"

// View is the client-facing shape of a contact.
type View struct {
	ID          int64  `json:"id"`
	ExternalID  string `json:"external_id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

func NewView(c *store.Contact) View {
	return View{ID: c.ID, ExternalID: c.ExternalID, Name: c.Name, PhoneNumber: c.PhoneNumber}
}

package conversation

// Partner is who the user is practicing with: a Persona or a Coach.
type Partner interface {
	PartnerID() string
	DisplayName() string
	partner()
}

type Persona struct {
	ID                string
	Name              string
	SystemInstruction string
}

func (p Persona) PartnerID() string   { return p.ID }
func (p Persona) DisplayName() string { return p.Name }
func (Persona) partner()              {}

type Coach struct {
	ID        string
	Name      string
	Specialty string
}

func (c Coach) PartnerID() string   { return c.ID }
func (c Coach) DisplayName() string { return c.Name }
func (Coach) partner()              {}

func isCoach(p Partner) bool {
	_, ok := p.(Coach)
	return ok
}

package schema

// Built-in field IDs present on every object base. The container field of
// an embedded object shares ID 0 with the owner list of a top-level object.
const (
	OwnerListField    uint16 = 0
	ContainerField    uint16 = 0
	ExpirationField   uint16 = 1
	RemovalField      uint16 = 2
	NotesField        uint16 = 3
	CreationDateField uint16 = 4
	CreatorField      uint16 = 5
	ModDateField      uint16 = 6
	ModifierField     uint16 = 7
	BackLinksField    uint16 = 8

	// FirstCustomField is the lowest ID available to base-specific fields.
	FirstCustomField uint16 = 100
)

// Bases with client-side special handling.
const (
	OwnerBase   uint16 = 0
	PersonaBase uint16 = 1
	RoleBase    uint16 = 2
	UserBase    uint16 = 3
)

// Persona linkage fields.
const (
	// PersonaAssocUser is the field of a persona pointing back at its user.
	PersonaAssocUser uint16 = 102
	// UserAdminPersonae is the field of a user listing its admin personae.
	UserAdminPersonae uint16 = 104
)

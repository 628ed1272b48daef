package hosting

// Account is a panel user.
type Account struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
}

// Allocation is an ip:port pair on a node.
type Allocation struct {
	ID       int64  `json:"id"`
	IP       string `json:"ip"`
	Alias    string `json:"alias"`
	Port     int    `json:"port"`
	Assigned bool   `json:"assigned"`
}

type Server struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	UserID     int64  `json:"user"`
	Allocation int64  `json:"allocation"`
	Suspended  bool   `json:"suspended"`
	// Status is nil on the panel once installation finished and the server has
	// never been started; the panel reports "installing" until then.
	Status *string `json:"status"`
}

type ServerStatus struct {
	Status     string
	Suspended  bool
	Installing bool
}

// InstallFinished reports whether the panel finished installing and left the server stopped.
func (s ServerStatus) InstallFinished() bool {
	return !s.Installing && s.Status == "offline"
}

type ServerSpec struct {
	Name         string
	Description  string
	UserID       int64
	EggID        int64
	DockerImage  string
	Startup      string
	Environment  map[string]string
	AllocationID int64
	Port         int
}

// AllocationRequest is everything needed to provision one claim.
type AllocationRequest struct {
	WAJID       string
	Username    string
	Template    string
	ServerName  string
	Description string
}

type AllocationResult struct {
	Account    Account
	Server     Server
	Allocation Allocation
	Password   string
	NodeID     int64
}

type AccountResult struct {
	Account  Account
	Password string
	IsNew    bool
}

package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/types/config"
)

const acceptHeader = "Application/vnd.pterodactyl.v1+json"

// Panel is the subset of the Pterodactyl application API the claim flow needs.
type Panel interface {
	FindUserByExternalID(ctx context.Context, externalID string) (*Account, error)
	CreateUser(ctx context.Context, username, email, password, externalID string) (*Account, error)
	UpdateUserPassword(ctx context.Context, userID int64, password string) error
	ListNodeAllocations(ctx context.Context, nodeID int64) ([]Allocation, error)
	CreateServer(ctx context.Context, spec ServerSpec) (*Server, error)
	GetServer(ctx context.Context, serverID int64) (*Server, error)
	DeleteServer(ctx context.Context, serverID int64) error
	CountUserServers(ctx context.Context, userID int64) (int, error)
	DeleteUser(ctx context.Context, userID int64) error
}

type PterodactylClient struct {
	BaseURL   string
	APIKey    string
	Client    *http.Client
	Resources config.ResourceConfig
}

func NewPterodactylClient(panel config.PanelConfig) *PterodactylClient {
	timeout := time.Duration(panel.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultPanelTimeoutSec) * time.Second
	}
	return &PterodactylClient{
		BaseURL:   panel.URL,
		APIKey:    panel.APIKey,
		Client:    &http.Client{Timeout: timeout},
		Resources: panel.Resources,
	}
}

type attributes[T any] struct {
	Attributes T `json:"attributes"`
}

type list[T any] struct {
	Data []attributes[T] `json:"data"`
	Meta struct {
		Pagination struct {
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

func (c *PterodactylClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &custom_errors.HostingAPIError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &custom_errors.HostingAPIError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.Client.Do(req)
	if err != nil {
		return &custom_errors.HostingAPIError{Op: op, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &custom_errors.HostingAPIError{Op: op, StatusCode: res.StatusCode, Body: string(raw)}
	}
	if out != nil && res.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return &custom_errors.HostingAPIError{Op: op, StatusCode: res.StatusCode, Err: fmt.Errorf("decode: %w", err)}
		}
	}
	return nil
}

func (c *PterodactylClient) FindUserByExternalID(ctx context.Context, externalID string) (*Account, error) {
	var out list[Account]
	path := "/api/application/users?filter[external_id]=" + url.QueryEscape(externalID)
	if err := c.do(ctx, "find user", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, nil
	}
	return &out.Data[0].Attributes, nil
}

func (c *PterodactylClient) CreateUser(ctx context.Context, username, email, password, externalID string) (*Account, error) {
	in := map[string]any{
		"username":    username,
		"email":       email,
		"first_name":  username,
		"last_name":   "User",
		"password":    password,
		"root_admin":  false,
		"language":    "en",
		"external_id": externalID,
	}
	var out attributes[Account]
	if err := c.do(ctx, "create user", http.MethodPost, "/api/application/users", in, &out); err != nil {
		return nil, err
	}
	return &out.Attributes, nil
}

// UpdateUserPassword patches only the password. The panel requires the other
// identity fields on PATCH, so the current user is read first.
func (c *PterodactylClient) UpdateUserPassword(ctx context.Context, userID int64, password string) error {
	var current attributes[Account]
	path := "/api/application/users/" + strconv.FormatInt(userID, 10)
	if err := c.do(ctx, "get user", http.MethodGet, path, nil, &current); err != nil {
		return err
	}
	in := map[string]any{
		"username":   current.Attributes.Username,
		"email":      current.Attributes.Email,
		"first_name": current.Attributes.Username,
		"last_name":  "User",
		"password":   password,
	}
	return c.do(ctx, "update password", http.MethodPatch, path, in, nil)
}

func (c *PterodactylClient) ListNodeAllocations(ctx context.Context, nodeID int64) ([]Allocation, error) {
	var all []Allocation
	for page := 1; ; page++ {
		var out list[Allocation]
		path := fmt.Sprintf("/api/application/nodes/%d/allocations?page=%d&per_page=100", nodeID, page)
		if err := c.do(ctx, "list allocations", http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		for _, a := range out.Data {
			all = append(all, a.Attributes)
		}
		if out.Meta.Pagination.TotalPages <= page {
			return all, nil
		}
	}
}

func (c *PterodactylClient) CreateServer(ctx context.Context, spec ServerSpec) (*Server, error) {
	env := make(map[string]string, len(spec.Environment)+1)
	for k, v := range spec.Environment {
		env[k] = v
	}
	env["SERVER_PORT"] = strconv.Itoa(spec.Port)

	in := map[string]any{
		"name":         spec.Name,
		"description":  spec.Description,
		"user":         spec.UserID,
		"egg":          spec.EggID,
		"docker_image": spec.DockerImage,
		"startup":      spec.Startup,
		"environment":  env,
		"limits": map[string]int{
			"memory": c.Resources.Memory,
			"swap":   c.Resources.Swap,
			"disk":   c.Resources.Disk,
			"io":     c.Resources.IO,
			"cpu":    c.Resources.CPU,
		},
		"feature_limits": map[string]int{
			"databases":   c.Resources.Databases,
			"allocations": c.Resources.Allocations,
			"backups":     c.Resources.Backups,
		},
		"allocation": map[string]int64{
			"default": spec.AllocationID,
		},
	}
	var out attributes[Server]
	if err := c.do(ctx, "create server", http.MethodPost, "/api/application/servers", in, &out); err != nil {
		return nil, err
	}
	return &out.Attributes, nil
}

func (c *PterodactylClient) GetServer(ctx context.Context, serverID int64) (*Server, error) {
	var out attributes[Server]
	path := "/api/application/servers/" + strconv.FormatInt(serverID, 10)
	if err := c.do(ctx, "get server", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Attributes, nil
}

func (c *PterodactylClient) DeleteServer(ctx context.Context, serverID int64) error {
	path := "/api/application/servers/" + strconv.FormatInt(serverID, 10)
	return c.do(ctx, "delete server", http.MethodDelete, path, nil, nil)
}

func (c *PterodactylClient) CountUserServers(ctx context.Context, userID int64) (int, error) {
	var out struct {
		Attributes struct {
			Relationships struct {
				Servers struct {
					Data []json.RawMessage `json:"data"`
				} `json:"servers"`
			} `json:"relationships"`
		} `json:"attributes"`
	}
	path := "/api/application/users/" + strconv.FormatInt(userID, 10) + "?include=servers"
	if err := c.do(ctx, "get user servers", http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return len(out.Attributes.Relationships.Servers.Data), nil
}

func (c *PterodactylClient) DeleteUser(ctx context.Context, userID int64) error {
	path := "/api/application/users/" + strconv.FormatInt(userID, 10)
	return c.do(ctx, "delete user", http.MethodDelete, path, nil, nil)
}

package store

import "github.com/tedsuo/rata"

const (
	ConfigureQuorumRoute = "ConfigureQuorum"
	SetRoute             = "Set"
	DumpRoute            = "Dump"
)

// LeaderRoutes are served by the leader.
var LeaderRoutes = rata.Routes{
	{Path: "/config", Method: "POST", Name: ConfigureQuorumRoute},
	{Path: "/set", Method: "POST", Name: SetRoute},
	{Path: "/dump", Method: "GET", Name: DumpRoute},
}

// NodeRoutes are served by every node, followers included.
var NodeRoutes = rata.Routes{
	{Path: "/dump", Method: "GET", Name: DumpRoute},
}

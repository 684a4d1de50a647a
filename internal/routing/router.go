// Package routing steers marked packets through a dedicated routing table:
// a policy rule selects the table by fwmark, and the table's only route sends
// everything out the upstream tunnel. The main table is never touched.
package routing

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
)

// Netlinker is the slice of netlink the policy router needs.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	RuleList(family int) ([]netlink.Rule, error)
	RuleAdd(rule *netlink.Rule) error
	RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error)
	RouteReplace(route *netlink.Route) error
}

type realNetlink struct{}

func (realNetlink) LinkByName(name string) (netlink.Link, error) {
	return netlink.LinkByName(name)
}

func (realNetlink) RuleList(family int) ([]netlink.Rule, error) {
	return netlink.RuleList(family)
}

func (realNetlink) RuleAdd(rule *netlink.Rule) error {
	return netlink.RuleAdd(rule)
}

func (realNetlink) RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error) {
	return netlink.RouteListFiltered(family, filter, filterMask)
}

func (realNetlink) RouteReplace(route *netlink.Route) error {
	return netlink.RouteReplace(route)
}

// Router installs the fwmark policy rule and the default route of the
// isolated table.
type Router struct {
	log *slog.Logger
	nl  Netlinker
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{log: log, nl: realNetlink{}}
}

func NewRouterWithDeps(log *slog.Logger, nl Netlinker) *Router {
	return &Router{log: log, nl: nl}
}

// EnsureRule makes sure packets carrying mark are looked up in table. The
// rule is matched on mark and table, so reruns and priority changes in other
// tooling do not stack duplicates.
func (r *Router) EnsureRule(mark uint32, table, priority int) error {
	rules, err := r.nl.RuleList(netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("list policy rules: %w", err)
	}
	for _, rule := range rules {
		if rule.Mark == mark && rule.Table == table {
			r.log.Info("policy rule present", "mark", fmt.Sprintf("%#x", mark), "table", table)
			return nil
		}
	}

	rule := netlink.NewRule()
	rule.Family = netlink.FAMILY_V4
	rule.Mark = mark
	rule.Table = table
	rule.Priority = priority
	if err := r.nl.RuleAdd(rule); err != nil {
		return fmt.Errorf("add policy rule fwmark %#x table %d: %w", mark, table, err)
	}
	r.log.Info("policy rule installed", "mark", fmt.Sprintf("%#x", mark), "table", table, "priority", priority)
	return nil
}

// EnsureDefaultRoute points the table's default route at iface. An existing
// default route through another interface is replaced, so a changed upstream
// descriptor takes effect on the next run.
func (r *Router) EnsureDefaultRoute(table int, iface string) error {
	link, err := r.nl.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", iface, err)
	}

	routes, err := r.nl.RouteListFiltered(netlink.FAMILY_V4, &netlink.Route{Table: table}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return fmt.Errorf("list routes in table %d: %w", table, err)
	}
	for _, route := range routes {
		if isDefault(route.Dst) && route.LinkIndex == link.Attrs().Index {
			r.log.Info("default route present", "table", table, "interface", iface)
			return nil
		}
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Table:     table,
		Scope:     netlink.SCOPE_LINK,
		Dst:       &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
	}
	if err := r.nl.RouteReplace(route); err != nil {
		return fmt.Errorf("replace default route in table %d: %w", table, err)
	}
	r.log.Info("default route installed", "table", table, "interface", iface)
	return nil
}

func isDefault(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0
}

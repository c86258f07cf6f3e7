//go:build linux

package qos

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/flowmeta/internal/logging"
)

// Manager provisions an HTB hierarchy with one class per queue. Packets
// are steered into a class by firewall mark: mark N lands in queue N.
type Manager struct {
	logger *logging.Logger
}

// NewManager creates a new QoS manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{logger: logger.WithComponent("qos")}
}

// Apply replaces the root qdisc on cfg.Interface with:
//
//	1:    htb, default 1:10
//	1:1   root class at rate_mbps
//	1:10  default queue
//	1:1N  queue N, plus an fw filter mapping mark N to it
func (m *Manager) Apply(cfg Config) error {
	if cfg.Interface == "" {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	link, err := netlink.LinkByName(cfg.Interface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", cfg.Interface, err)
	}
	idx := link.Attrs().Index

	if err := m.clearRoot(link); err != nil {
		return err
	}

	root := netlink.NewHtb(netlink.QdiscAttrs{
		LinkIndex: idx,
		Parent:    netlink.HANDLE_ROOT,
		Handle:    netlink.MakeHandle(1, 0),
	})
	root.Defcls = uint32(classMinor(DefaultQueue))
	if err := netlink.QdiscAdd(root); err != nil {
		return fmt.Errorf("failed to add root HTB qdisc: %w", err)
	}

	total := parseRate(cfg.RateMbps)
	if err := m.addClass(idx, netlink.MakeHandle(1, 0), 1, total, total); err != nil {
		return fmt.Errorf("failed to add root HTB class: %w", err)
	}
	if err := m.addClass(idx, netlink.MakeHandle(1, 1), classMinor(DefaultQueue), total, total); err != nil {
		return fmt.Errorf("failed to add default class: %w", err)
	}

	for _, q := range cfg.Queues {
		rate := parseRateStr(q.Rate, total)
		if rate == 0 {
			rate = total
		}
		minor := classMinor(q.ID)
		if err := m.addClass(idx, netlink.MakeHandle(1, 1), minor, rate, total); err != nil {
			return fmt.Errorf("failed to add class for queue %s: %w", q.Name, err)
		}

		filter, err := netlink.NewFw(netlink.FilterAttrs{
			LinkIndex: idx,
			Parent:    netlink.MakeHandle(1, 0),
			Handle:    uint32(q.ID),
			Priority:  1,
			Protocol:  unix.ETH_P_ALL,
		}, netlink.FilterFwAttrs{
			ClassId: netlink.MakeHandle(1, minor),
		})
		if err != nil {
			return fmt.Errorf("failed to build filter for queue %s: %w", q.Name, err)
		}
		if err := netlink.FilterAdd(filter); err != nil {
			return fmt.Errorf("failed to add filter for queue %s: %w", q.Name, err)
		}
		m.logger.Info("queue provisioned", "queue", q.Name, "id", q.ID, "class", fmt.Sprintf("1:%d", minor), "rate_bps", rate*8)
	}
	return nil
}

// Clear removes whatever root qdisc Apply installed.
func (m *Manager) Clear(iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", iface, err)
	}
	return m.clearRoot(link)
}

func (m *Manager) clearRoot(link netlink.Link) error {
	qdiscs, err := netlink.QdiscList(link)
	if err != nil {
		return fmt.Errorf("failed to list qdiscs: %w", err)
	}
	for _, q := range qdiscs {
		if q.Attrs().Parent != netlink.HANDLE_ROOT {
			continue
		}
		// the kernel's default root qdisc can't be deleted; that's fine
		if err := netlink.QdiscDel(q); err != nil {
			m.logger.Debug("root qdisc not removed", "type", q.Type(), "error", err)
		}
	}
	return nil
}

func (m *Manager) addClass(linkIndex int, parent uint32, minor uint16, rate, ceil uint64) error {
	class := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: linkIndex,
		Parent:    parent,
		Handle:    netlink.MakeHandle(1, minor),
	}, netlink.HtbClassAttrs{
		Rate:    rate,
		Ceil:    ceil,
		Buffer:  1514,
		Cbuffer: 1514,
	})
	return netlink.ClassAdd(class)
}

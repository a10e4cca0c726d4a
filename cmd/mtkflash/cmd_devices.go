package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"mtkflash/internal/discovery"
	"mtkflash/internal/fastboot"
)

func runDevices(w io.Writer) error {
	ports, err := discovery.SerialPorts()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL PORT\tUSB ID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		id := "-"
		if p.IsUSB {
			id = p.VID + ":" + p.PID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, id, orDash(p.SerialNumber), orDash(p.Product))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	endpoints, err := fastboot.List()
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FASTBOOT\tUSB ID\tSERIAL")
	for _, ep := range endpoints {
		fmt.Fprintf(tw, "%03d:%03d\t%s:%s\t%s\n", ep.Bus, ep.Address, ep.Vendor, ep.Product, orDash(ep.Serial))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package common

import (
	"net"
	"os"
	"os/user"
)

// LocalIPv4 本机 IPv4：先按主机名解析，再退回到第一块非回环网卡，都没有时 127.0.0.1
func LocalIPv4() string {
	if host, err := os.Hostname(); err == nil {
		if addrs, err := net.LookupIP(host); err == nil {
			for _, ip := range addrs {
				if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
					return v4.String()
				}
			}
		}
	}

	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok {
				if v4 := ipn.IP.To4(); v4 != nil && !v4.IsLoopback() {
					return v4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}

// CurrentUser 当前系统用户名，取不到时用 $USER
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "user"
}

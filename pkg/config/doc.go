// Package config loads the agent settings and the desired-state document.
//
// # Settings
//
// Settings are read from a YAML file (DefaultSettingsPath by default) over
// DefaultSettings and validated with struct tags. Unknown keys are errors.
// The command line overlays flags on the result, then EngineOptions turns it
// into engine.Options.
//
//	decision: blacklist
//	decision_list:
//	  - "Package:telnet*"
//	  - "Path:/etc/ssh/*"
//	remove: packages
//	driver_timeout: 5m
//	drivers: [Action, POSIX, Packages, Systemd]
//	store:
//	  path: /var/lib/froyo-agent/history.db
//	telemetry:
//	  logging: {level: info, format: json}
//	  tracing: {exporter: otlp, endpoint: "collector:4317", insecure: true}
//	  metrics: {textfile: /var/lib/node_exporter/froyo.prom}
//
// # Documents
//
// A document is a list of bundles of entries. YAML documents are decoded
// strictly; CUE documents are first unified with the #Document schema, so
// they may use definitions and hidden fields to share values.
//
//	revision: "1234"
//	bundles:
//	  - name: ssh
//	    entries:
//	      - {kind: Package, name: openssh-server}
//	      - kind: Path
//	        name: /etc/ssh/sshd_config
//	        attrs: {type: file, mode: "0600", content: "PermitRootLogin no\n"}
//	      - kind: Service
//	        name: sshd
//	        attrs: {status: "on"}
//	      - kind: Action
//	        name: reload-sshd
//	        attrs: {timing: post, when: modified, command: "systemctl reload sshd", status: check}
package config

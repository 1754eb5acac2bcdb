package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkengine/internal/model"
)

// agentOutput is the result of splitting agent text into sections.
type agentOutput struct {
	sections  model.HostSections
	persisted map[model.SectionName]persistedSection
}

type sectionHeader struct {
	name      model.SectionName
	separator string // 空表示按空白分隔
	cached    *model.CacheInfo
	persist   *time.Time
}

// parseAgentOutput splits the agent text format into sections.
//
//	<<<name>>>                     section header
//	<<<name:sep(59)>>>             columns separated by chr(59)
//	<<<name:cached(at,interval)>>> data cached by the agent
//	<<<name:persist(until)>>>      data valid until the given unix time
//	<<<<target>>>> ... <<<<>>>>    piggyback data for another host
func parseAgentOutput(data []byte, now time.Time) (agentOutput, error) {
	out := agentOutput{
		sections:  model.NewHostSections(),
		persisted: make(map[model.SectionName]persistedSection),
	}

	var (
		current   *sectionHeader
		piggyback string
	)
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)

		if target, ok := piggybackHeader(trimmed); ok {
			piggyback = target
			current = nil
			continue
		}
		if piggyback != "" {
			out.sections.Piggyback[piggyback] = append(out.sections.Piggyback[piggyback], line)
			continue
		}

		if strings.HasPrefix(trimmed, "<<<") && strings.HasSuffix(trimmed, ">>>") {
			h, err := parseSectionHeader(trimmed[3 : len(trimmed)-3])
			if err != nil {
				return out, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			current = &h
			if _, seen := out.sections.Sections[h.name]; !seen {
				out.sections.Sections[h.name] = model.SectionRows{}
			}
			switch {
			case h.persist != nil:
				out.sections.CacheInfo[h.name] = model.CacheInfo{CachedAt: now, Interval: h.persist.Sub(now)}
			case h.cached != nil:
				out.sections.CacheInfo[h.name] = *h.cached
			}
			continue
		}

		if current == nil || trimmed == "" {
			continue
		}
		row := splitRow(line, current.separator)
		out.sections.AddRows(current.name, model.SectionRows{row})
		if current.persist != nil {
			p := out.persisted[current.name]
			p.CachedAt, p.Until = now, *current.persist
			p.Rows = append(p.Rows, row)
			out.persisted[current.name] = p
		}
	}
	return out, nil
}

// piggybackHeader recognizes <<<<target>>>>; an empty target ends the block.
func piggybackHeader(line string) (string, bool) {
	if !strings.HasPrefix(line, "<<<<") || !strings.HasSuffix(line, ">>>>") || len(line) < 8 {
		return "", false
	}
	return strings.TrimSpace(line[4 : len(line)-4]), true
}

func parseSectionHeader(raw string) (sectionHeader, error) {
	parts := strings.Split(raw, ":")
	h := sectionHeader{name: strings.TrimSpace(parts[0])}
	if h.name == "" {
		return h, fmt.Errorf("section header without name")
	}

	for _, opt := range parts[1:] {
		name, args, hasArgs := strings.Cut(opt, "(")
		if hasArgs {
			if !strings.HasSuffix(args, ")") {
				return h, fmt.Errorf("section %s: malformed option %q", h.name, opt)
			}
			args = strings.TrimSuffix(args, ")")
		}
		switch name {
		case "sep":
			code, err := strconv.Atoi(args)
			if err != nil || code < 0 || code > 255 {
				return h, fmt.Errorf("section %s: invalid separator %q", h.name, args)
			}
			h.separator = string(rune(code))
		case "cached":
			at, interval, ok := strings.Cut(args, ",")
			atSec, err1 := strconv.ParseInt(strings.TrimSpace(at), 10, 64)
			intervalSec, err2 := strconv.ParseInt(strings.TrimSpace(interval), 10, 64)
			if !ok || err1 != nil || err2 != nil {
				return h, fmt.Errorf("section %s: invalid cache info %q", h.name, args)
			}
			h.cached = &model.CacheInfo{CachedAt: time.Unix(atSec, 0), Interval: time.Duration(intervalSec) * time.Second}
		case "persist":
			until, err := strconv.ParseInt(args, 10, 64)
			if err != nil {
				return h, fmt.Errorf("section %s: invalid persist time %q", h.name, args)
			}
			t := time.Unix(until, 0)
			h.persist = &t
		}
	}
	return h, nil
}

func splitRow(line, separator string) []string {
	if separator == "" {
		return strings.Fields(line)
	}
	return strings.Split(line, separator)
}

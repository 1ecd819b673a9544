package catalog

// DefaultProjects returns a fresh copy of the built-in portfolio.
func DefaultProjects() []Project {
	return []Project{
		{
			ID:                  "1",
			Title:               "Fortune 500 Digital Transformation",
			Category:            "Digital Strategy",
			Description:         "Modernizing legacy infrastructure for a global retail giant.",
			Image:               "https://images.unsplash.com/photo-1486406146926-c627a92ad1ab?auto=format&fit=crop&q=80&w=1200",
			Challenge:           "Inefficient silos and legacy tech preventing market agility.",
			Strategy:            "Implemented a unified cloud-native architecture and AI-driven supply chain.",
			Outcome:             "40% reduction in operational overhead and 25% increase in online revenue.",
			AISystemInstruction: "You are a Senior Digital Transformation Consultant. Focus on scalability, ROI, and technical efficiency.",
		},
		{
			ID:                  "2",
			Title:               "Startup Scalability Phase",
			Category:            "Growth Strategy",
			Description:         "Hyper-scaling a Fintech unicorn from Series B to IPO.",
			Image:               "https://images.unsplash.com/photo-1460925895917-afdab827c52f?auto=format&fit=crop&q=80&w=1200",
			Challenge:           "Rapid user growth outpacing internal governance and processes.",
			Strategy:            `Structural reorganization and implementing "Apex Growth" frameworks.`,
			Outcome:             "Successful $2B IPO and international expansion into 12 new markets.",
			AISystemInstruction: "You are a Growth & Scalability Specialist. Focus on organizational design and rapid market entry.",
		},
	}
}

// DefaultServices returns a fresh copy of the built-in service offerings.
func DefaultServices() []Service {
	return []Service{
		{
			ID:          "s1",
			Title:       "Operational Rigor",
			Description: "Re-engineering workflows for zero-latency execution.",
			IconName:    IconLayers,
			DetailedContent: "Our operational rigor framework involves a 360-degree audit of your existing supply chain " +
				"and internal communication channels. We deploy proprietary optimization algorithms to identify and " +
				"eliminate waste, ensuring your organization moves at the speed of the digital age.",
		},
		{
			ID:          "s2",
			Title:       "Global Scale",
			Description: "Market expansion strategies for multi-national dominance.",
			IconName:    IconGlobe,
			DetailedContent: "Expanding into new territories requires more than capital; it requires cultural and " +
				"regulatory intelligence. Apex provides bespoke go-to-market blueprints that minimize risk while " +
				"maximizing market penetration in emerging and established economies.",
		},
		{
			ID:          "s3",
			Title:       "Digital Edge",
			Description: "Weaponizing AI and emerging tech for unfair market advantage.",
			IconName:    IconZap,
			DetailedContent: "We don't just integrate AI; we weaponize it. From custom LLM environments for internal " +
				"knowledge management to predictive customer behavioral models, we ensure your tech stack is your " +
				"primary competitive advantage.",
		},
	}
}

package tool

// Builtins 返回平台内置的工具目录。
//
// 前四项与受限集成工具面向业务智能体；其余工具支撑引擎的任务类型映射，
// 除 security_scanner 外均为公开工具。
func Builtins() []Descriptor {
	return []Descriptor{
		{
			Name:                 "excel_reader",
			Category:             CategoryFileProcessor,
			Description:          "Read and parse Excel files",
			Version:              "1.0.0",
			SecurityLevel:        LevelPublic,
			IsPublic:             true,
			RequiredCapabilities: []string{"file_read"},
			Config:               map[string]any{"supported_formats": []string{"xlsx", "xls"}},
		},
		{
			Name:                 "pdf_analyzer",
			Category:             CategoryFileProcessor,
			Description:          "Extract text and analyze PDF documents",
			Version:              "1.0.0",
			SecurityLevel:        LevelPublic,
			IsPublic:             true,
			RequiredCapabilities: []string{"file_read", "text_extraction"},
			Config:               map[string]any{"max_pages": 100},
		},
		{
			Name:                 "financial_calculator",
			Category:             CategoryDataAnalyzer,
			Description:          "Perform financial calculations and analysis",
			Version:              "1.0.0",
			SecurityLevel:        LevelPublic,
			IsPublic:             true,
			RequiredCapabilities: []string{"calculation"},
			Config:               map[string]any{"precision": 2},
		},
		{
			Name:                 "report_generator",
			Category:             CategoryGenerator,
			Description:          "Generate formatted reports",
			Version:              "1.0.0",
			SecurityLevel:        LevelPublic,
			IsPublic:             true,
			RequiredCapabilities: []string{"document_generation"},
			Config:               map[string]any{"formats": []string{"pdf", "docx", "html"}},
		},
		{
			Name:                 "database_connector",
			Category:             CategoryIntegration,
			Description:          "Connect to external databases",
			Version:              "1.0.0",
			SecurityLevel:        LevelRestricted,
			RequiresApproval:     true,
			AllowedAgentTypes:    []string{"financial_calculator", "data_converter"},
			RequiredCapabilities: []string{"database_access"},
		},
		{
			Name:                 "api_client",
			Category:             CategoryIntegration,
			Description:          "Make HTTP requests to external APIs",
			Version:              "1.0.0",
			SecurityLevel:        LevelRestricted,
			RequiresApproval:     true,
			AllowedAgentTypes:    []string{"custom"},
			RequiredCapabilities: []string{"network_access"},
		},
		utility("pandas_processor", CategoryDataAnalyzer, "Tabular data processing"),
		utility("visualization_tool", CategoryGenerator, "Chart and plot rendering"),
		utility("statistics_calculator", CategoryDataAnalyzer, "Descriptive statistics"),
		utility("text_generator", CategoryGenerator, "Free-form text generation"),
		utility("template_engine", CategoryGenerator, "Template based document rendering"),
		utility("code_analyzer", CategoryUtility, "Static code analysis"),
		utility("linter", CategoryUtility, "Style and lint checks"),
		utility("web_scraper", CategoryIntegration, "Fetch web pages"),
		utility("html_parser", CategoryUtility, "Parse HTML documents"),
		utility("file_processor", CategoryFileProcessor, "Generic file processing"),
		utility("document_parser", CategoryFileProcessor, "Parse structured documents"),
		utility("generic_processor", CategoryUtility, "Fallback processor for unknown task types"),
		{
			Name:          "security_scanner",
			Category:      CategorySecurity,
			Description:   "Scan source code for vulnerable patterns",
			Version:       "1.0.0",
			SecurityLevel: LevelInternal,
		},
	}
}

func utility(name string, category Category, description string) Descriptor {
	return Descriptor{
		Name:          name,
		Category:      category,
		Description:   description,
		Version:       "1.0.0",
		SecurityLevel: LevelPublic,
		IsPublic:      true,
	}
}

package config

type AppConfig struct {
	Server     ServerConfig
	Log        LogConfig
	Study      StudyConfig
	Generation GenerationConfig
	Delay      DelayConfig
}

func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, err
	}
	studyCfg, err := LoadStudy()
	if err != nil {
		return AppConfig{}, err
	}
	genCfg, err := LoadGeneration()
	if err != nil {
		return AppConfig{}, err
	}
	delayCfg, err := LoadDelay()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server:     serverCfg,
		Log:        logCfg,
		Study:      studyCfg,
		Generation: genCfg,
		Delay:      delayCfg,
	}, nil
}
